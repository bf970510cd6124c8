// Package signer issues and verifies the access/refresh token pair for Aegis.
//
// Both tokens are HS256 JWTs carrying the account identity {id, email, role}.
// The two kinds are signed with independent secrets, and expiry is reported
// distinctly from any other verification failure.
package signer
