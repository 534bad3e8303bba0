// Package middleware provides the HTTP middleware for the sign-in
// endpoints: request-id tagging, request logging and a Redis-backed
// login rate limiter shared across instances.
package middleware
