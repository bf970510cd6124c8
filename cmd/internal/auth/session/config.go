package session

import "time"

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// MaxSessionsPerAccount caps concurrent sessions per account. A login
	// from a known device tuple never counts against it.
	MaxSessionsPerAccount int

	// RefreshTTL is the session lifetime for ordinary logins.
	RefreshTTL time.Duration

	// RememberMeTTL is the extended lifetime for remember-me logins.
	RememberMeTTL time.Duration
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		MaxSessionsPerAccount: 3,
		RefreshTTL:            24 * time.Hour,
		RememberMeTTL:         7 * 24 * time.Hour,
	}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.MaxSessionsPerAccount < 1 {
		return ErrConfig
	}
	if c.RefreshTTL <= 0 || c.RememberMeTTL <= 0 {
		return ErrConfig
	}
	if c.RememberMeTTL < c.RefreshTTL {
		return ErrConfig
	}
	return nil
}

// ttl picks the session lifetime for a remember-me choice.
func (c Config) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		return c.RememberMeTTL
	}
	return c.RefreshTTL
}
