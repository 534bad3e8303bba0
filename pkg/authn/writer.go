package authn

import (
	"context"

	"github.com/idbridge/idbridge/pkg/identity"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/password"
	"github.com/idbridge/idbridge/pkg/policy"
	"github.com/idbridge/idbridge/pkg/token"
)

// Writer wraps user mutations with the post-persist pipeline. Every
// create or update ends with policy enforcement followed by a
// placeholder-token backfill for each linked provider, so a user's
// very first sign-in always finds a token row to rotate.
type Writer struct {
	users  *identity.Store
	tokens *token.Manager
	policy *policy.Engine
	hasher password.Hasher
	logger *observability.Logger
}

// NewWriter creates a mutation wrapper over the given stores
func NewWriter(users *identity.Store, tokens *token.Manager, engine *policy.Engine,
	hasher password.Hasher, logger *observability.Logger) *Writer {
	return &Writer{
		users:  users,
		tokens: tokens,
		policy: engine,
		hasher: hasher,
		logger: logger,
	}
}

// CreateUser creates a local account. An empty plaintext stores the
// no-password sentinel.
func (w *Writer) CreateUser(ctx context.Context, login, plaintext string) (*identity.User, error) {
	var hash *string
	if plaintext != "" {
		h, err := w.hasher.Hash(plaintext)
		if err != nil {
			return nil, err
		}
		hash = &h
	}

	user, err := w.users.CreateUser(ctx, login, hash)
	if err != nil {
		return nil, err
	}
	return w.postPersist(ctx, user.ID)
}

// SetPassword stores a new password for the user. A non-blank
// password on a federated, non-exempt user fails with a
// policy.ConflictError when coexistence is disallowed. An empty
// plaintext stores the no-password sentinel and never conflicts.
func (w *Writer) SetPassword(ctx context.Context, userID int64, plaintext string) error {
	user, err := w.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	var hash *string
	if plaintext != "" {
		if err := w.policy.ValidatePasswordWrite(ctx, user); err != nil {
			return err
		}
		h, err := w.hasher.Hash(plaintext)
		if err != nil {
			return err
		}
		hash = &h
	}

	if err := w.users.SetPasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	_, err = w.postPersist(ctx, userID)
	return err
}

// UpdateAttributes applies IdP-mapped attributes and runs the
// post-persist pipeline. Attributes outside the writable allow-list
// are dropped by the store.
func (w *Writer) UpdateAttributes(ctx context.Context, userID int64, attrs map[string]string) (*identity.User, error) {
	if err := w.users.UpdateAttributes(ctx, userID, attrs); err != nil {
		return nil, err
	}
	return w.postPersist(ctx, userID)
}

// Link binds the user to a (provider, subject) pair. The storage
// unique index rejects a second claim on the same subject.
func (w *Writer) Link(ctx context.Context, userID, providerID int64, subjectUID string) (*identity.User, error) {
	if _, err := w.users.Link(ctx, userID, providerID, subjectUID); err != nil {
		return nil, err
	}
	return w.postPersist(ctx, userID)
}

// Unlink removes the federated identity and its bearer token. Token
// removal is explicit here; nothing else ever deletes tokens.
func (w *Writer) Unlink(ctx context.Context, userID, providerID int64) error {
	if err := w.users.Unlink(ctx, userID, providerID); err != nil {
		return err
	}
	if err := w.tokens.Delete(ctx, userID, providerID); err != nil {
		return err
	}
	_, err := w.postPersist(ctx, userID)
	return err
}

// postPersist reloads the user, enforces the coexistence policy and
// backfills a placeholder token per linked provider. It returns the
// user as it stands after enforcement.
func (w *Writer) postPersist(ctx context.Context, userID int64) (*identity.User, error) {
	user, err := w.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	user, err = w.policy.Enforce(ctx, user)
	if err != nil {
		return nil, err
	}

	for _, fi := range user.Identities {
		if _, err := w.tokens.EnsureExists(ctx, userID, fi.ProviderID); err != nil {
			return nil, err
		}
	}
	return user, nil
}
