package token

import "errors"

// Public, stable errors for callers.
var (
	ErrTokenTooShort = errors.New("opaque token too short")
)
