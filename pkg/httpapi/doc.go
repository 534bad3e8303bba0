// Package httpapi exposes the HTTP surface: SAML login initiation,
// the assertion consumer endpoint, SP metadata, and provider
// administration. It stays deliberately thin; every sign-in decision
// lives in pkg/authn.
package httpapi
