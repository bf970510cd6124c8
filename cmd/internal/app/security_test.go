package app

import (
	"strings"
	"testing"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	good := Config{
		AccessTokenSecret:  strings.Repeat("a", 32),
		RefreshTokenSecret: strings.Repeat("b", 32),
	}
	if err := ValidateSecurityConfig(good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"short access secret", func(c *Config) { c.AccessTokenSecret = "short" }},
		{"short refresh secret", func(c *Config) { c.RefreshTokenSecret = "short" }},
		{"matching secrets", func(c *Config) { c.RefreshTokenSecret = c.AccessTokenSecret }},
		{"cross-site without secure", func(c *Config) { c.CookieCrossSite = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mut(&cfg)
			if err := ValidateSecurityConfig(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
