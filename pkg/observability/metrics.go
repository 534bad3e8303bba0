package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Sign-in pipeline
	SignInsTotal *prometheus.CounterVec

	// Data-integrity alarm: a (provider, subject) pair resolved to
	// more than one user. Must stay at zero.
	IdentityAmbiguousTotal *prometheus.CounterVec

	// Token lifecycle
	TokensRotatedTotal    *prometheus.CounterVec
	TokensBackfilledTotal *prometheus.CounterVec
	TokensSweptTotal      prometheus.Counter

	// Policy enforcement
	PasswordsBlankedTotal  prometheus.Counter
	PasswordConflictsTotal prometheus.Counter

	// Credential-check fallback
	TokenFallbacksTotal *prometheus.CounterVec
}

// Sign-in outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_sign_ins_total",
				Help: "Total number of federated sign-in attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		IdentityAmbiguousTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_identity_ambiguous_total",
				Help: "Subject IDs that resolved to more than one local user (broken uniqueness invariant)",
			},
			[]string{"provider"},
		),
		TokensRotatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_tokens_rotated_total",
				Help: "Bearer tokens issued or rotated on sign-in",
			},
			[]string{"provider"},
		),
		TokensBackfilledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_tokens_backfilled_total",
				Help: "Placeholder tokens created by the post-persist backfill",
			},
			[]string{"provider"},
		),
		TokensSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idbridge_tokens_swept_total",
				Help: "Orphaned tokens removed by the sweep job",
			},
		),
		PasswordsBlankedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idbridge_passwords_blanked_total",
				Help: "Passwords cleared by the coexistence policy post-write hook",
			},
		),
		PasswordConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idbridge_password_conflicts_total",
				Help: "Explicit password writes rejected by the coexistence policy",
			},
		),
		TokenFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_token_fallbacks_total",
				Help: "Credential checks that fell through to bearer-token lookup, by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.SignInsTotal,
		m.IdentityAmbiguousTotal,
		m.TokensRotatedTotal,
		m.TokensBackfilledTotal,
		m.TokensSweptTotal,
		m.PasswordsBlankedTotal,
		m.PasswordConflictsTotal,
		m.TokenFallbacksTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
