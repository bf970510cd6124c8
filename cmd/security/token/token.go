package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// DefaultOpaqueBytes is the entropy of verification and reset tokens.
const DefaultOpaqueBytes = 32

// NewOpaque returns a random URL-safe token of nBytes entropy.
// The raw value is shown to the user exactly once; only its digest
// is ever stored.
func NewOpaque(nBytes int) (string, error) {
	if nBytes < 16 {
		return "", ErrTokenTooShort
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashHex returns the SHA-256 hex digest of s.
//
// The digest is deliberately unsalted: stored digests are equality-lookup
// keys (refresh, verification and reset tokens are all found by digest),
// and the preimage carries at least 256 bits of entropy.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
