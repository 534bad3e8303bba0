package identity

import (
	"context"
)

// Resolver maps an IdP-asserted (provider, subject) pair to exactly
// one local user.
type Resolver struct {
	store *Store
}

// NewResolver creates a new resolver over the identity store
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the single user owning the federated identity for
// (providerID, subjectUID).
//
// Zero matches yield ErrIdentityNotFound. More than one match yields
// ErrIdentityAmbiguous instead of picking a row: the unique index
// makes this unreachable, and reaching it means the store's integrity
// is broken. Resolve has no side effects.
func (r *Resolver) Resolve(ctx context.Context, providerID int64, subjectUID string) (*User, error) {
	if subjectUID == "" {
		return nil, ErrIdentityNotFound
	}

	identities, err := r.store.identitiesForSubject(ctx, providerID, subjectUID)
	if err != nil {
		return nil, err
	}

	switch len(identities) {
	case 0:
		return nil, ErrIdentityNotFound
	case 1:
		return r.store.GetUser(ctx, identities[0].UserID)
	default:
		return nil, ErrIdentityAmbiguous
	}
}
