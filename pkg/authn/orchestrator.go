package authn

import (
	"context"
	"errors"
	"strconv"

	"github.com/idbridge/idbridge/pkg/identity"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/password"
	"github.com/idbridge/idbridge/pkg/policy"
	"github.com/idbridge/idbridge/pkg/saml"
	"github.com/idbridge/idbridge/pkg/token"
)

// ErrAccessDenied is the uniform denial surfaced for every
// authentication failure. It deliberately carries no detail.
var ErrAccessDenied = errors.New("access denied")

// Result is a successful sign-in decision. TokenValue is the raw
// assertion blob, which is also the stored bearer token value.
type Result struct {
	Realm      string `json:"realm"`
	Login      string `json:"login"`
	TokenValue string `json:"-"`
}

// Orchestrator drives the sign-in state machine:
// Validate -> Resolve -> TokenSync -> attribute apply -> Success.
type Orchestrator struct {
	realm     string
	validator saml.Validator
	users     *identity.Store
	resolver  *identity.Resolver
	tokens    *token.Manager
	writer    *Writer
	hasher    password.Hasher
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics enables Prometheus counters for sign-in outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the sign-in pipeline. realm identifies this
// deployment in successful results.
func NewOrchestrator(realm string, validator saml.Validator, users *identity.Store,
	tokens *token.Manager, engine *policy.Engine, hasher password.Hasher,
	logger *observability.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		realm:     realm,
		validator: validator,
		users:     users,
		resolver:  identity.NewResolver(users),
		tokens:    tokens,
		writer:    NewWriter(users, tokens, engine, hasher, logger),
		hasher:    hasher,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Writer returns the mutation wrapper sharing this pipeline's stores
func (o *Orchestrator) Writer() *Writer {
	return o.writer
}

// Authenticate runs one sign-in decision for a raw assertion posted
// to the given provider's ACS endpoint. All failures return
// ErrAccessDenied.
func (o *Orchestrator) Authenticate(ctx context.Context, providerID int64, rawAssertion, baseURL string) (*Result, error) {
	log := o.logger.WithField("provider_id", providerID)

	if rawAssertion == "" {
		return nil, o.deny(log, providerID, "empty assertion", nil)
	}

	validation, err := o.validator.Validate(ctx, providerID, rawAssertion, baseURL)
	if err != nil {
		return nil, o.deny(log, providerID, "assertion validation failed", err)
	}
	if validation.SubjectUID == "" {
		return nil, o.deny(log, providerID, "assertion carries no subject identifier", nil)
	}

	user, err := o.resolver.Resolve(ctx, providerID, validation.SubjectUID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityAmbiguous) {
			// Data-integrity alarm: the unique index on
			// (provider_id, subject_uid) should make this unreachable.
			log.WithField("subject_uid", validation.SubjectUID).
				Error("subject resolved to more than one local user")
			if o.metrics != nil {
				o.metrics.IdentityAmbiguousTotal.WithLabelValues(o.providerLabel(providerID)).Inc()
			}
		}
		return nil, o.deny(log, providerID, "identity resolution failed", err)
	}
	if !user.IsActive {
		return nil, o.deny(log.WithField("login", user.Login), providerID, "user is inactive", nil)
	}
	if user.Login == "" {
		return nil, o.deny(log, providerID, "resolved user has no login", nil)
	}

	if _, err := o.tokens.IssueOrRotate(ctx, user.ID, providerID, rawAssertion); err != nil {
		return nil, o.deny(log.WithField("login", user.Login), providerID, "token rotation failed", err)
	}

	if len(validation.MappedAttrs) > 0 {
		if _, err := o.writer.UpdateAttributes(ctx, user.ID, validation.MappedAttrs); err != nil {
			return nil, o.deny(log.WithField("login", user.Login), providerID, "attribute update failed", err)
		}
	}

	log.WithField("login", user.Login).Info("federated sign-in succeeded")
	if o.metrics != nil {
		o.metrics.SignInsTotal.WithLabelValues(o.providerLabel(providerID), observability.OutcomeSuccess).Inc()
	}
	return &Result{Realm: o.realm, Login: user.Login, TokenValue: rawAssertion}, nil
}

// CheckCredentials verifies a presented secret for a known user. The
// standard password check runs first; only denied-credential and
// oversized-password failures fall through to the bearer-token
// lookup. Any other failure propagates unchanged.
func (o *Orchestrator) CheckCredentials(ctx context.Context, userID int64, presented string) error {
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrAccessDenied
		}
		return err
	}

	err = o.verifyPassword(user, presented)
	if err == nil {
		return nil
	}
	if !errors.Is(err, password.ErrMismatch) && !errors.Is(err, password.ErrTooLong) {
		return err
	}

	_, err = o.tokens.FindForUser(ctx, user.ID, presented)
	if err == nil {
		o.logger.WithField("login", user.Login).Debug("credential check satisfied by bearer token")
		if o.metrics != nil {
			o.metrics.TokenFallbacksTotal.WithLabelValues(observability.OutcomeHit).Inc()
		}
		return nil
	}
	if !errors.Is(err, token.ErrTokenNotFound) {
		return err
	}
	if o.metrics != nil {
		o.metrics.TokenFallbacksTotal.WithLabelValues(observability.OutcomeMiss).Inc()
	}
	return ErrAccessDenied
}

func (o *Orchestrator) verifyPassword(user *identity.User, presented string) error {
	if !user.HasPassword() {
		return password.ErrMismatch
	}
	return o.hasher.Verify(presented, *user.PasswordHash)
}

// deny logs the real reason, counts the denial and returns the
// uniform external error.
func (o *Orchestrator) deny(log *observability.Logger, providerID int64, reason string, err error) error {
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("sign-in denied: " + reason)
	if o.metrics != nil {
		o.metrics.SignInsTotal.WithLabelValues(o.providerLabel(providerID), observability.OutcomeDenied).Inc()
	}
	return ErrAccessDenied
}

func (o *Orchestrator) providerLabel(providerID int64) string {
	return strconv.FormatInt(providerID, 10)
}
