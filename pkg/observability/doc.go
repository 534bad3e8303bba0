// Package observability provides structured logging and Prometheus
// metrics for the identity bridge.
//
// The Logger is a thin wrapper around log/slog that emits JSON and
// supports field chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("provider", "okta").Info("sign-in accepted")
//
// Metrics cover sign-in outcomes, token lifecycle events and the
// data-integrity alarm raised when a federated subject resolves to
// more than one user.
package observability
