// Package saml validates IdP assertions and manages trusted provider
// configuration.
//
// Validation is built on gosaml2/goxmldsig: the provider's PEM
// certificate anchors signature verification, and the validated
// assertion is reduced to a subject identifier plus the attributes
// the provider's mapping selects. Everything downstream treats this
// package as a black box returning a claims set or an error.
//
// Built service providers are cached in an LRU keyed by provider id
// and invalidated when the stored configuration changes.
package saml
