// Package jwt is the token issuer: it mints short-lived access tokens and
// long-lived refresh tokens bound to a session id, and verifies both.
// Verification is a pure function of the configured keys and the token
// bytes; it never touches a store, so malformed or forged tokens are
// rejected before any session lookup.
package jwt
