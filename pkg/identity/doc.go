// Package identity holds local user accounts and their federated
// identity links, and resolves an IdP-asserted subject to exactly one
// local user.
//
// The (provider_id, subject_uid) pair is unique across the system;
// the Resolver still scans for duplicates and reports
// ErrIdentityAmbiguous rather than silently picking a row, since a
// violated invariant here means the database integrity is broken.
package identity
