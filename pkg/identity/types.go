package identity

import (
	"errors"
	"time"
)

// User represents a local account
type User struct {
	ID           int64      `json:"id"`
	Login        string     `json:"login"`
	Name         string     `json:"name,omitempty"`
	Email        string     `json:"email,omitempty"`
	PasswordHash *string    `json:"-"` // nil means "no password" (first-class sentinel)
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Identities is populated by Store.GetUser and friends.
	Identities []FederatedIdentity `json:"identities,omitempty"`
}

// HasPassword reports whether the user holds a usable password hash
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasFederatedIdentity reports whether any provider link exists
func (u *User) HasFederatedIdentity() bool {
	return len(u.Identities) > 0
}

// FederatedIdentity links a local user to a (provider, subject) pair
type FederatedIdentity struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ProviderID int64     `json:"provider_id"`
	SubjectUID string    `json:"subject_uid"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	// ErrUserNotFound indicates a lookup by id or login matched nothing
	ErrUserNotFound = errors.New("user not found")

	// ErrIdentityNotFound indicates no federated link matched the
	// (provider, subject) pair
	ErrIdentityNotFound = errors.New("federated identity not found")

	// ErrIdentityAmbiguous indicates more than one user claims the same
	// (provider, subject) pair. This is a data-integrity violation: the
	// unique index should make it unreachable.
	ErrIdentityAmbiguous = errors.New("federated identity is ambiguous")
)

// Writable attribute columns the IdP may update through the mapped
// attribute path. Everything else (login, password, id) is refused.
var writableAttributes = map[string]bool{
	"name":  true,
	"email": true,
}

// IsWritableAttribute reports whether the IdP-mapped attribute may be
// applied to the user record.
func IsWritableAttribute(name string) bool {
	return writableAttributes[name]
}
