package authapi

import "time"

// Config controls request handling and cookie security.
type Config struct {
	// TrustProxy enables X-Forwarded-For / X-Real-IP for client IPs.
	// Leave off unless a trusted reverse proxy terminates all traffic.
	TrustProxy bool

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// MaxAvatarBytes caps the multipart registration body, avatar included.
	MaxAvatarBytes int64

	// OpaqueTokenTTL is the lifetime of verification and reset links.
	OpaqueTokenTTL time.Duration

	CookieDomain string
	CookiePath   string
	CookieSecure bool

	// CookieCrossSite switches cookies to SameSite=None for a frontend on
	// another origin. Requires CookieSecure.
	CookieCrossSite bool
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,  // 1 MiB
		MaxAvatarBytes: 5 << 20,  // 5 MiB
		OpaqueTokenTTL: 30 * time.Minute,
		CookiePath:     "/",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.MaxAvatarBytes <= 0 {
		c.MaxAvatarBytes = d.MaxAvatarBytes
	}
	if c.OpaqueTokenTTL <= 0 {
		c.OpaqueTokenTTL = d.OpaqueTokenTTL
	}
	if c.CookiePath == "" {
		c.CookiePath = d.CookiePath
	}
	return c
}
