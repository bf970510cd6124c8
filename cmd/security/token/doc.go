// Package token provides opaque-token primitives for Aegis.
//
// It is the single source of truth for server-side token hashing: refresh
// tokens, email-verification tokens and password-reset tokens are all
// stored as SHA-256 hex digests and looked up by digest equality.
//
// Design goals:
// - Stable 64-char hex output suitable for unique-indexed storage.
// - Constant-time digest comparison.
// - Raw opaque tokens with >= 128 bits of entropy, shown once and never stored.
package token
