package authn

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idbridge/idbridge/pkg/identity"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/password"
	"github.com/idbridge/idbridge/pkg/policy"
	"github.com/idbridge/idbridge/pkg/saml"
	"github.com/idbridge/idbridge/pkg/storage"
	"github.com/idbridge/idbridge/pkg/token"
)

type stubValidator struct {
	result *saml.Validation
	err    error
}

func (s *stubValidator) Validate(_ context.Context, _ int64, _, _ string) (*saml.Validation, error) {
	return s.result, s.err
}

type fixture struct {
	db        *sql.DB
	users     *identity.Store
	tokens    *token.Manager
	validator *stubValidator
	orch      *Orchestrator
	provider  int64
}

type fixtureOptions struct {
	coexistence bool
	exempt      []string
	metrics     *observability.Metrics
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.DSN = ":memory:"
	db, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db, storage.DriverSQLite))

	var providerID int64
	err = db.QueryRow(`
		INSERT INTO saml_providers (name, config, attribute_mapping) VALUES ('okta', '{}', '{}')
		RETURNING id
	`).Scan(&providerID)
	require.NoError(t, err)

	logger := testLogger()
	users := identity.NewStore(db)
	tokens := token.NewManager(db, logger)
	hasher := password.NewBcryptHasher(4)
	settings := policy.StaticSettings{Coexistence: opts.coexistence, Exempt: opts.exempt}
	engine := policy.NewEngine(settings, users, hasher, logger)
	validator := &stubValidator{}

	var orchOpts []Option
	if opts.metrics != nil {
		orchOpts = append(orchOpts, WithMetrics(opts.metrics))
	}
	orch := NewOrchestrator("testdb", validator, users, tokens, engine, hasher, logger, orchOpts...)

	return &fixture{
		db:        db,
		users:     users,
		tokens:    tokens,
		validator: validator,
		orch:      orch,
		provider:  providerID,
	}
}

func (f *fixture) linkedUser(t *testing.T, login, subjectUID string) *identity.User {
	t.Helper()
	ctx := context.Background()
	user, err := f.users.CreateUser(ctx, login, nil)
	require.NoError(t, err)
	_, err = f.users.Link(ctx, user.ID, f.provider, subjectUID)
	require.NoError(t, err)
	return user
}

func (f *fixture) tokenCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM auth_tokens`).Scan(&n))
	return n
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func strPtr(s string) *string { return &s }

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	f.validator.result = &saml.Validation{SubjectUID: "abc"}

	result, err := f.orch.Authenticate(ctx, f.provider, "assertion-blob", "https://sp.example.com")
	require.NoError(t, err)
	assert.Equal(t, "testdb", result.Realm)
	assert.Equal(t, "alice", result.Login)
	assert.Equal(t, "assertion-blob", result.TokenValue)

	tok, err := f.tokens.Get(ctx, alice.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, "assertion-blob", tok.AccessToken)
}

func TestAuthenticateRotatesTokenInPlace(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	f.validator.result = &saml.Validation{SubjectUID: "abc"}

	_, err := f.orch.Authenticate(ctx, f.provider, "blob-1", "https://sp.example.com")
	require.NoError(t, err)
	_, err = f.orch.Authenticate(ctx, f.provider, "blob-2", "https://sp.example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, f.tokenCount(t))
	tok, err := f.tokens.Get(ctx, alice.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, "blob-2", tok.AccessToken)
}

func TestAuthenticateUnknownSubjectDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	f.validator.result = &saml.Validation{SubjectUID: "nobody"}

	_, err := f.orch.Authenticate(context.Background(), f.provider, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 0, f.tokenCount(t))
}

func TestAuthenticateValidatorFailureDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	f.linkedUser(t, "alice", "abc")
	f.validator.err = assert.AnError

	_, err := f.orch.Authenticate(context.Background(), f.provider, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 0, f.tokenCount(t))
}

func TestAuthenticateEmptySubjectDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	f.validator.result = &saml.Validation{SubjectUID: ""}

	_, err := f.orch.Authenticate(context.Background(), f.provider, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthenticateEmptyAssertionDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})

	_, err := f.orch.Authenticate(context.Background(), f.provider, "", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthenticateInactiveUserDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	_, err := f.db.Exec(`UPDATE users SET is_active = FALSE WHERE id = $1`, alice.ID)
	require.NoError(t, err)
	f.validator.result = &saml.Validation{SubjectUID: "abc"}

	_, err = f.orch.Authenticate(ctx, f.provider, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 0, f.tokenCount(t))
}

func TestAuthenticateAppliesMappedAttributes(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	f.validator.result = &saml.Validation{
		SubjectUID: "abc",
		MappedAttrs: map[string]string{
			"name":  "Alice Smith",
			"email": "alice@example.com",
			"login": "evil", // not writable, must be dropped
		},
	}

	_, err := f.orch.Authenticate(ctx, f.provider, "blob", "https://sp.example.com")
	require.NoError(t, err)

	refreshed, err := f.users.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", refreshed.Name)
	assert.Equal(t, "alice@example.com", refreshed.Email)
	assert.Equal(t, "alice", refreshed.Login)
}

// A duplicate (provider, subject) row set cannot be created through
// the store, so it is injected with sqlmock to confirm the denial is
// uniform and the integrity alarm fires.
func TestAuthenticateAmbiguousIdentityDenied(t *testing.T) {
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

	logger := testLogger()
	users := identity.NewStore(db)
	tokens := token.NewManager(db, logger)
	hasher := password.NewBcryptHasher(4)
	engine := policy.NewEngine(policy.StaticSettings{Coexistence: true}, users, hasher, logger)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	validator := &stubValidator{result: &saml.Validation{SubjectUID: "abc"}}

	orch := NewOrchestrator("testdb", validator, users, tokens, engine, hasher, logger,
		WithMetrics(metrics))

	_, err = orch.Authenticate(context.Background(), 1, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.IdentityAmbiguousTotal.WithLabelValues("1")))
}

func TestCheckCredentialsPassword(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	hasher := password.NewBcryptHasher(4)
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	user, err := f.users.CreateUser(ctx, "bob", strPtr(hash))
	require.NoError(t, err)

	assert.NoError(t, f.orch.CheckCredentials(ctx, user.ID, "s3cret"))
	assert.ErrorIs(t, f.orch.CheckCredentials(ctx, user.ID, "wrong"), ErrAccessDenied)
}

func TestCheckCredentialsTokenFallback(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	_, err := f.tokens.IssueOrRotate(ctx, alice.ID, f.provider, "bearer-value")
	require.NoError(t, err)

	// No password set: the delegated check fails as a mismatch and
	// the bearer token stands in.
	assert.NoError(t, f.orch.CheckCredentials(ctx, alice.ID, "bearer-value"))
	assert.ErrorIs(t, f.orch.CheckCredentials(ctx, alice.ID, "stale-value"), ErrAccessDenied)
}

func TestCheckCredentialsOversizedPasswordFallsBack(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	hasher := password.NewBcryptHasher(4)
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	alice := f.linkedUser(t, "alice", "abc")
	require.NoError(t, f.users.SetPasswordHash(ctx, alice.ID, strPtr(hash)))

	// Longer than bcrypt's 72-byte limit, so the password check fails
	// with an oversized-input error rather than a plain mismatch.
	long := strings.Repeat("x", 100)
	_, err = f.tokens.IssueOrRotate(ctx, alice.ID, f.provider, long)
	require.NoError(t, err)

	assert.NoError(t, f.orch.CheckCredentials(ctx, alice.ID, long))
}

func TestCheckCredentialsUnknownUserDenied(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})

	err := f.orch.CheckCredentials(context.Background(), 999, "anything")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestCheckCredentialsEmptyPlaceholderUnusable(t *testing.T) {
	f := newFixture(t, fixtureOptions{coexistence: true})
	ctx := context.Background()

	alice := f.linkedUser(t, "alice", "abc")
	_, err := f.tokens.EnsureExists(ctx, alice.ID, f.provider)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.CheckCredentials(ctx, alice.ID, ""), ErrAccessDenied)
}

func TestAuthenticateCountsOutcomes(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, fixtureOptions{coexistence: true, metrics: metrics})
	ctx := context.Background()

	f.linkedUser(t, "alice", "abc")
	f.validator.result = &saml.Validation{SubjectUID: "abc"}
	_, err := f.orch.Authenticate(ctx, f.provider, "blob", "https://sp.example.com")
	require.NoError(t, err)

	f.validator.result = &saml.Validation{SubjectUID: "ghost"}
	_, err = f.orch.Authenticate(ctx, f.provider, "blob", "https://sp.example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)

	label := testutil.ToFloat64
	provider := "1"
	assert.Equal(t, float64(1), label(metrics.SignInsTotal.WithLabelValues(provider, observability.OutcomeSuccess)))
	assert.Equal(t, float64(1), label(metrics.SignInsTotal.WithLabelValues(provider, observability.OutcomeDenied)))
}
