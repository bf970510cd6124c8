// Package session implements the session lifecycle for Aegis.
//
// A session is a server-side row identified by the device tuple
// (account, user agent, IP). Logging in from a known device rotates the
// existing row in place; a new device admits a new row subject to the
// per-account capacity limit. The refresh token's digest is the only
// secret stored; rotation replaces it atomically and invalidates the
// previous token.
package session
