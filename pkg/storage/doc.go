// Package storage opens and migrates the relational database backing
// the identity bridge.
//
// Two drivers are supported: postgres (lib/pq) for deployments and
// sqlite3 for embedded use and tests. Queries across the repo use $n
// placeholders, each exactly once and in order, which both drivers
// bind positionally.
//
// The schema enforces the two uniqueness invariants the
// authentication pipeline depends on: one user per
// (provider_id, subject_uid) federated link, and one bearer token per
// (user_id, provider_id) pair.
package storage
