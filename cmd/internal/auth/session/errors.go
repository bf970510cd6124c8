package session

import "errors"

var (
	// ErrQuotaExceeded is returned when an account is at its session
	// capacity and the login does not match an existing device tuple.
	ErrQuotaExceeded = errors.New("session quota exceeded")

	// ErrInvalidRefreshToken covers every unusable refresh token: bad
	// signature, expired, or no matching session row. Indistinguishable
	// on purpose to avoid token probing.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrSessionMismatch is returned when a valid refresh token is
	// presented from a device tuple other than the one the session was
	// bound to. The session is destroyed before this error surfaces.
	ErrSessionMismatch = errors.New("session mismatch")

	// ErrSessionNotFound is returned when a session row does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrFingerprintConflict is returned by stores when an insert loses a
	// race against another login from the same device tuple.
	ErrFingerprintConflict = errors.New("session fingerprint conflict")

	// ErrRefreshHashConflict is returned by stores when an insert collides
	// on the refresh digest. Digests are minted from random token IDs, so
	// this indicates a duplicate write, not a plausible accident.
	ErrRefreshHashConflict = errors.New("refresh digest conflict")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
