package app

import "errors"

// ValidateSecurityConfig enforces the token signing policy at startup.
// Fail-fast is intentional: a server that silently runs with weak or
// shared secrets must never come up.
func ValidateSecurityConfig(cfg Config) error {
	if len(cfg.AccessTokenSecret) < 32 {
		return errors.New("security policy: AEGIS_ACCESS_TOKEN_SECRET must be at least 32 bytes")
	}
	if len(cfg.RefreshTokenSecret) < 32 {
		return errors.New("security policy: AEGIS_REFRESH_TOKEN_SECRET must be at least 32 bytes")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return errors.New("security policy: access and refresh token secrets must be distinct")
	}
	if cfg.CookieCrossSite && !cfg.CookieSecure {
		return errors.New("security policy: AEGIS_COOKIE_CROSS_SITE requires AEGIS_COOKIE_SECURE")
	}
	return nil
}
