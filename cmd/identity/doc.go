// Package identity implements Aegis's account foundation.
//
// It owns the Account model, the store boundary used by the HTTP layers,
// and the Postgres implementation. Credential and token material never
// appears here in plain form; callers hand in digests and hashes.
package identity
