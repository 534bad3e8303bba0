package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/idbridge/idbridge/pkg/identity"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/password"
)

// ConflictError rejects an explicit password write on federated
// accounts. It carries the offending logins for administrator
// diagnostics; it is never shown to end users.
type ConflictError struct {
	Logins []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("users may not hold both a password and a federated identity: %s",
		strings.Join(e.Logins, ", "))
}

// Engine enforces the coexistence policy
type Engine struct {
	settings Settings
	store    *identity.Store
	hasher   password.Hasher

	// strength, when set, stands in for an external password-strength
	// module imposing a non-null constraint on the password column.
	strength *password.StrengthPolicy

	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures the engine
type Option func(*Engine)

// WithStrengthPolicy makes Enforce store a random policy-satisfying
// placeholder instead of the blank sentinel when clearing passwords.
func WithStrengthPolicy(p password.StrengthPolicy) Option {
	return func(e *Engine) { e.strength = &p }
}

// WithMetrics attaches metrics counters
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a policy engine
func NewEngine(settings Settings, store *identity.Store, hasher password.Hasher, logger *observability.Logger, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		store:    store,
		hasher:   hasher,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AllowCoexistence reads the policy flag at call time
func (e *Engine) AllowCoexistence(ctx context.Context) bool {
	return e.settings.AllowCoexistence(ctx)
}

// eligible reports whether the coexistence policy applies to the
// user: the flag is off, the account is not exempt, and it holds a
// federated link. Both enforcement paths share this predicate; the
// cleanup path additionally requires an existing password.
func (e *Engine) eligible(ctx context.Context, user *identity.User) bool {
	if e.settings.AllowCoexistence(ctx) {
		return false
	}
	for _, login := range e.settings.ExemptLogins(ctx) {
		if user.Login == login {
			return false
		}
	}
	return user.HasFederatedIdentity()
}

// ValidatePasswordWrite is the constraint path: it must be called
// before an explicit non-blank password write and fails with a
// ConflictError naming every offending login. The user's current
// password does not matter; the incoming write is non-blank.
func (e *Engine) ValidatePasswordWrite(ctx context.Context, users ...*identity.User) error {
	var offending []string
	for _, user := range users {
		if e.eligible(ctx, user) {
			offending = append(offending, user.Login)
		}
	}
	if len(offending) == 0 {
		return nil
	}

	if e.metrics != nil {
		e.metrics.PasswordConflictsTotal.Inc()
	}
	return &ConflictError{Logins: offending}
}

// Enforce is the cleanup path: it runs after any create/update of a
// user, regardless of which field changed, and blanks an eligible
// user's password rather than raising. Returns the refreshed user.
func (e *Engine) Enforce(ctx context.Context, user *identity.User) (*identity.User, error) {
	if !e.eligible(ctx, user) || !user.HasPassword() {
		return user, nil
	}

	replacement, err := e.replacementHash()
	if err != nil {
		return nil, err
	}
	if err := e.store.SetPasswordHash(ctx, user.ID, replacement); err != nil {
		return nil, fmt.Errorf("failed to blank password: %w", err)
	}

	if e.metrics != nil {
		e.metrics.PasswordsBlankedTotal.Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"login":   user.Login,
	}).Warn("password removed: account holds a federated identity and coexistence is disallowed")

	return e.store.GetUser(ctx, user.ID)
}

// replacementHash yields nil (the blank sentinel) or, when a strength
// module constrains the column, the hash of a throwaway placeholder.
func (e *Engine) replacementHash() (*string, error) {
	if e.strength == nil {
		return nil, nil
	}

	placeholder, err := password.GeneratePlaceholder(*e.strength)
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to hash placeholder: %w", err)
	}
	return &hash, nil
}
