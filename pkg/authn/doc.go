// Package authn is the top-level sign-in decision pipeline. The
// Orchestrator composes assertion validation, identity resolution,
// credential policy and token issuance into a single Authenticate
// call, and provides the credential-check fallback that lets a
// previously issued bearer token stand in for a password.
//
// Every authentication failure collapses to ErrAccessDenied at this
// boundary so callers cannot distinguish "no such identity" from
// "assertion invalid" from "ambiguous mapping". The ambiguous case is
// additionally logged at error level and counted, since it means the
// storage uniqueness invariant is broken.
//
// The Writer wraps user mutations so the post-persist pipeline
// (password coexistence enforcement, then placeholder-token backfill
// per linked provider) runs after every create or update. Nothing
// mutates users behind its back.
package authn
