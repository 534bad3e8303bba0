// Package token manages the durable bearer tokens scoped to a
// (user, provider) pair.
//
// The token value is the raw assertion payload from the sign-in that
// produced it, so presenting it is exactly as strong as replaying the
// original IdP response. That property is inherited from the system
// this bridge stays compatible with; deployments that want an
// independent high-entropy secret should rotate at the IdP.
//
// At most one token exists per pair. The read-then-write window on
// concurrent first logins is closed by the unique index on
// (user_id, provider_id) together with upsert statements, so no
// caller-side locking is needed.
package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/idbridge/idbridge/pkg/observability"
)

// ErrTokenNotFound indicates no token exists for the pair
var ErrTokenNotFound = errors.New("token not found")

// Token is a bearer credential owned by a (user, provider) pair
type Token struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ProviderID  int64     `json:"provider_id"`
	AccessToken string    `json:"-"` // never expose the value
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Manager issues, rotates and verifies bearer tokens
type Manager struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics enables Prometheus counters for token lifecycle events
func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a token manager
func NewManager(db *sql.DB, logger *observability.Logger, opts ...Option) *Manager {
	m := &Manager{db: db, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueOrRotate writes value as the token for (userID, providerID),
// replacing any existing value. The upsert guarantees exactly one row
// per pair even under concurrent first logins.
func (m *Manager) IssueOrRotate(ctx context.Context, userID, providerID int64, value string) (*Token, error) {
	now := time.Now().UTC()
	tok := &Token{UserID: userID, ProviderID: providerID, AccessToken: value}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO auth_tokens (user_id, provider_id, access_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider_id)
		DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at
	`, userID, providerID, value, now, now).Scan(&tok.ID, &tok.CreatedAt, &tok.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	if m.metrics != nil {
		m.metrics.TokensRotatedTotal.WithLabelValues(strconv.FormatInt(providerID, 10)).Inc()
	}
	return tok, nil
}

// EnsureExists creates a placeholder token with an empty value if
// none exists yet. It is idempotent and never overwrites an existing
// value. This closes the gap where a user's very first sign-in has no
// token row to rotate.
func (m *Manager) EnsureExists(ctx context.Context, userID, providerID int64) (*Token, error) {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (user_id, provider_id, access_token, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4)
		ON CONFLICT (user_id, provider_id) DO NOTHING
	`, userID, providerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to backfill token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		m.logger.WithFields(map[string]interface{}{
			"user_id":     userID,
			"provider_id": providerID,
		}).Info("created placeholder bearer token")
		if m.metrics != nil {
			m.metrics.TokensBackfilledTotal.WithLabelValues(strconv.FormatInt(providerID, 10)).Inc()
		}
	}

	return m.Get(ctx, userID, providerID)
}

// Get fetches the token for a pair
func (m *Manager) Get(ctx context.Context, userID, providerID int64) (*Token, error) {
	tok := &Token{}
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider_id, access_token, created_at, updated_at
		FROM auth_tokens
		WHERE user_id = $1 AND provider_id = $2
	`, userID, providerID).Scan(&tok.ID, &tok.UserID, &tok.ProviderID,
		&tok.AccessToken, &tok.CreatedAt, &tok.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	return tok, nil
}

// Verify reports whether presented matches the stored token for the
// pair. It returns false, never an error, on no-match or no-record.
// Empty values never match; a backfilled placeholder is not a usable
// credential.
func (m *Manager) Verify(ctx context.Context, userID, providerID int64, presented string) bool {
	if presented == "" {
		return false
	}
	tok, err := m.Get(ctx, userID, providerID)
	if err != nil {
		return false
	}
	return tok.AccessToken != "" && tok.AccessToken == presented
}

// FindForUser reports whether any of the user's live tokens, across
// all providers, matches presented. Used by the credential-check
// fallback where the provider is unknown.
func (m *Manager) FindForUser(ctx context.Context, userID int64, presented string) (*Token, error) {
	if presented == "" {
		return nil, ErrTokenNotFound
	}

	tok := &Token{}
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider_id, access_token, created_at, updated_at
		FROM auth_tokens
		WHERE user_id = $1 AND access_token = $2
	`, userID, presented).Scan(&tok.ID, &tok.UserID, &tok.ProviderID,
		&tok.AccessToken, &tok.CreatedAt, &tok.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search tokens: %w", err)
	}
	return tok, nil
}

// Delete removes the token for a pair. Tokens are only ever deleted
// explicitly, on unlink or account removal.
func (m *Manager) Delete(ctx context.Context, userID, providerID int64) error {
	_, err := m.db.ExecContext(ctx, `
		DELETE FROM auth_tokens WHERE user_id = $1 AND provider_id = $2
	`, userID, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// SweepOrphans deletes tokens whose federated identity link no longer
// exists. Run periodically; unlink deletes its own token, so this
// only catches links removed out of band.
func (m *Manager) SweepOrphans(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM auth_tokens
		WHERE NOT EXISTS (
			SELECT 1 FROM federated_identities fi
			WHERE fi.user_id = auth_tokens.user_id
			  AND fi.provider_id = auth_tokens.provider_id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens: %w", err)
	}
	swept, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if swept > 0 {
		m.logger.WithField("count", swept).Info("swept orphaned bearer tokens")
		if m.metrics != nil {
			m.metrics.TokensSweptTotal.Add(float64(swept))
		}
	}
	return swept, nil
}
