package identity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSingleMatch(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	providerID := createTestProvider(t, db, "okta")
	alice, err := store.CreateUser(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = store.Link(ctx, alice.ID, providerID, "abc")
	require.NoError(t, err)

	user, err := resolver.Resolve(ctx, providerID, "abc")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "alice", user.Login)
}

func TestResolveNotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	providerID := createTestProvider(t, db, "okta")

	_, err := resolver.Resolve(ctx, providerID, "nobody")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestResolveEmptySubject(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewStore(db))

	_, err := resolver.Resolve(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestResolveWrongProvider(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	okta := createTestProvider(t, db, "okta")
	azure := createTestProvider(t, db, "azure")
	alice, err := store.CreateUser(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = store.Link(ctx, alice.ID, okta, "abc")
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, azure, "abc")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

// The unique index makes a duplicate (provider, subject) unreachable
// through the store, so the broken-invariant row set is injected with
// sqlmock to confirm the resolver fails closed.
func TestResolveAmbiguousFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "provider_id", "subject_uid", "created_at"}).
		AddRow(1, 10, 1, "abc", now).
		AddRow(2, 20, 1, "abc", now)
	mock.ExpectQuery(`SELECT id, user_id, provider_id, subject_uid, created_at`).
		WithArgs(int64(1), "abc").
		WillReturnRows(rows)

	resolver := NewResolver(NewStore(db))
	_, err = resolver.Resolve(context.Background(), 1, "abc")
	assert.ErrorIs(t, err, ErrIdentityAmbiguous)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, user_id, provider_id, subject_uid, created_at`).
		WillReturnError(assert.AnError)

	resolver := NewResolver(NewStore(db))
	_, err = resolver.Resolve(context.Background(), 1, "abc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdentityNotFound)
	assert.NotErrorIs(t, err, ErrIdentityAmbiguous)
}
