// Package auth issues and validates the credentials guarding the relay API.
//
// Authentication is off unless a JWT secret is configured. When it is on,
// clients exchange the shared access password for a short-lived HS256 access
// token, and WebSocket clients trade that token for a single-use ticket so
// the JWT never appears in a URL.
package auth
