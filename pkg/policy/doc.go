// Package policy decides whether a local password and a federated
// identity may coexist on one account, and enforces the decision.
//
// Two enforcement paths share one eligibility predicate:
//
//   - the validating path (ValidatePasswordWrite) rejects an explicit
//     non-blank password write on a federated, non-exempt account with
//     a ConflictError naming the offending logins;
//   - the cleanup path (Enforce) runs after every user create/update
//     and silently blanks such a password instead of raising, since
//     the write that triggered it may not have touched the password
//     at all (bulk import, attribute sync).
//
// Exempt accounts (superuser and the designated default admin) always
// keep their passwords so the system can never lock itself out.
//
// When a password-strength module constrains the password column to
// non-null values, Enforce stores a random policy-satisfying
// placeholder instead of the blank sentinel. The placeholder is
// hashed and discarded; it can never be used as a real credential.
package policy
