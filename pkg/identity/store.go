package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists users and federated identity links
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a new local account. passwordHash may be nil for
// a password-less account.
func (s *Store) CreateUser(ctx context.Context, login string, passwordHash *string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login is required")
	}

	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (login, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4)
		RETURNING id
	`, login, passwordHash, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.GetUser(ctx, id)
}

// GetUser fetches a user with linked identities by id
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, login, name, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Login, &user.Name, &user.Email,
		&user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if user.Identities, err = s.IdentitiesForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByLogin fetches a user with linked identities by login
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, login, name, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE login = $1
	`, login).Scan(&user.ID, &user.Login, &user.Name, &user.Email,
		&user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if user.Identities, err = s.IdentitiesForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPasswordHash writes the password column directly. A nil hash
// stores the "no password" sentinel. Policy checks are the caller's
// responsibility; only the policy engine and the post-persist
// pipeline go through here.
func (s *Store) SetPasswordHash(ctx context.Context, userID int64, hash *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, hash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateAttributes applies IdP-mapped attributes to the user record.
// Attributes outside the writable allow-list are skipped.
func (s *Store) UpdateAttributes(ctx context.Context, userID int64, attrs map[string]string) error {
	for key, value := range attrs {
		if !IsWritableAttribute(key) {
			continue
		}
		// Column names come from the fixed allow-list, never from input.
		query := fmt.Sprintf(`UPDATE users SET %s = $1, updated_at = $2 WHERE id = $3`, key)
		if _, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), userID); err != nil {
			return fmt.Errorf("failed to update attribute %q: %w", key, err)
		}
	}
	return nil
}

// Link creates a federated identity for the user. The unique index on
// (provider_id, subject_uid) rejects a second claim on the same
// subject.
func (s *Store) Link(ctx context.Context, userID, providerID int64, subjectUID string) (*FederatedIdentity, error) {
	if subjectUID == "" {
		return nil, fmt.Errorf("subject uid is required")
	}

	fi := &FederatedIdentity{UserID: userID, ProviderID: providerID, SubjectUID: subjectUID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO federated_identities (user_id, provider_id, subject_uid, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, userID, providerID, subjectUID, time.Now().UTC()).Scan(&fi.ID, &fi.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}
	return fi, nil
}

// Unlink removes the federated identity for (user, provider)
func (s *Store) Unlink(ctx context.Context, userID, providerID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM federated_identities WHERE user_id = $1 AND provider_id = $2
	`, userID, providerID)
	if err != nil {
		return fmt.Errorf("failed to unlink identity: %w", err)
	}
	return nil
}

// IdentitiesForUser lists the federated links owned by a user
func (s *Store) IdentitiesForUser(ctx context.Context, userID int64) ([]FederatedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider_id, subject_uid, created_at
		FROM federated_identities
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []FederatedIdentity
	for rows.Next() {
		var fi FederatedIdentity
		if err := rows.Scan(&fi.ID, &fi.UserID, &fi.ProviderID, &fi.SubjectUID, &fi.CreatedAt); err != nil {
			return nil, err
		}
		identities = append(identities, fi)
	}
	return identities, rows.Err()
}

// identitiesForSubject returns every link claiming the (provider,
// subject) pair. More than one row means the uniqueness invariant is
// broken; the Resolver decides how to report that.
func (s *Store) identitiesForSubject(ctx context.Context, providerID int64, subjectUID string) ([]FederatedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider_id, subject_uid, created_at
		FROM federated_identities
		WHERE provider_id = $1 AND subject_uid = $2
	`, providerID, subjectUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query federated identities: %w", err)
	}
	defer rows.Close()

	var identities []FederatedIdentity
	for rows.Next() {
		var fi FederatedIdentity
		if err := rows.Scan(&fi.ID, &fi.UserID, &fi.ProviderID, &fi.SubjectUID, &fi.CreatedAt); err != nil {
			return nil, err
		}
		identities = append(identities, fi)
	}
	return identities, rows.Err()
}
