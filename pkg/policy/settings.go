package policy

import "context"

// Settings is the configuration surface the engine reads on every
// decision. Implementations must return the current value at call
// time; the engine never caches.
type Settings interface {
	// AllowCoexistence reports whether a user may hold both a password
	// and a federated identity.
	AllowCoexistence(ctx context.Context) bool

	// ExemptLogins returns the accounts exempt from enforcement.
	ExemptLogins(ctx context.Context) []string
}

// StaticSettings is a fixed Settings implementation for tests and
// simple deployments.
type StaticSettings struct {
	Coexistence bool
	Exempt      []string
}

func (s StaticSettings) AllowCoexistence(_ context.Context) bool { return s.Coexistence }

func (s StaticSettings) ExemptLogins(_ context.Context) []string { return s.Exempt }
