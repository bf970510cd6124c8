// Package password provides credential hashing for Aegis.
//
// It implements Argon2id with a PHC-style encoded string format:
// - Configurable cost parameters and length policy
// - Strict hash decoding with anti-DoS cost bounds on Verify
// - Constant-time comparison
//
// Stored hash strings are treated as untrusted input during Verify.
package password
