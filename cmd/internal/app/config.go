package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config contains all runtime configuration. Every field is loaded from an
// AEGIS_-prefixed environment variable; a .env file in the working
// directory is read first when present.
type Config struct {
	HTTPAddr string `env:"AEGIS_HTTP_ADDR, default=0.0.0.0:8080"`
	LogLevel string `env:"AEGIS_LOG_LEVEL, default=info"`

	ReadHeaderTimeout time.Duration `env:"AEGIS_HTTP_READ_HEADER_TIMEOUT, default=5s"`
	ReadTimeout       time.Duration `env:"AEGIS_HTTP_READ_TIMEOUT, default=15s"`
	WriteTimeout      time.Duration `env:"AEGIS_HTTP_WRITE_TIMEOUT, default=15s"`
	IdleTimeout       time.Duration `env:"AEGIS_HTTP_IDLE_TIMEOUT, default=60s"`
	MaxHeaderBytes    int           `env:"AEGIS_HTTP_MAX_HEADER_BYTES, default=1048576"`

	DatabaseURL string `env:"AEGIS_DATABASE_URL, required"`
	DBMaxConns  int32  `env:"AEGIS_DB_MAX_CONNS, default=10"`
	DBMinConns  int32  `env:"AEGIS_DB_MIN_CONNS, default=0"`
	DBSchema    string `env:"AEGIS_DB_SCHEMA, default=aegis"`

	// Token signing. The two secrets are independent; startup fails when
	// either is short or when they match.
	AccessTokenSecret  string        `env:"AEGIS_ACCESS_TOKEN_SECRET, required"`
	RefreshTokenSecret string        `env:"AEGIS_REFRESH_TOKEN_SECRET, required"`
	AccessTokenTTL     time.Duration `env:"AEGIS_ACCESS_TOKEN_TTL, default=15m"`
	RefreshTokenTTL    time.Duration `env:"AEGIS_REFRESH_TOKEN_TTL, default=24h"`
	RememberMeTTL      time.Duration `env:"AEGIS_REMEMBER_ME_TTL, default=168h"`

	MaxSessionsPerAccount int           `env:"AEGIS_MAX_SESSIONS_PER_ACCOUNT, default=3"`
	OpaqueTokenTTL        time.Duration `env:"AEGIS_OPAQUE_TOKEN_TTL, default=30m"`

	// Cookie policy toward the browser frontend.
	CookieDomain    string `env:"AEGIS_COOKIE_DOMAIN"`
	CookieSecure    bool   `env:"AEGIS_COOKIE_SECURE, default=false"`
	CookieCrossSite bool   `env:"AEGIS_COOKIE_CROSS_SITE, default=false"`
	TrustProxy      bool   `env:"AEGIS_TRUST_PROXY, default=false"`

	// ClientURL is the web app origin used in mailed links.
	ClientURL string `env:"AEGIS_CLIENT_URL, default=http://localhost:5173"`

	CORSAllowedOrigins []string `env:"AEGIS_CORS_ALLOWED_ORIGINS"`

	// Rate limit on the /auth surface, requests per IP per minute.
	AuthRateLimit int `env:"AEGIS_AUTH_RATE_LIMIT, default=60"`

	SMTPHost     string `env:"AEGIS_SMTP_HOST"`
	SMTPPort     int    `env:"AEGIS_SMTP_PORT, default=587"`
	SMTPUsername string `env:"AEGIS_SMTP_USERNAME"`
	SMTPPassword string `env:"AEGIS_SMTP_PASSWORD"`
	MailFrom     string `env:"AEGIS_MAIL_FROM"`

	GoogleClientID string `env:"AEGIS_GOOGLE_CLIENT_ID"`
	IPInfoToken    string `env:"AEGIS_IPINFO_TOKEN"`

	S3Bucket        string `env:"AEGIS_S3_BUCKET"`
	S3Region        string `env:"AEGIS_S3_REGION"`
	S3Endpoint      string `env:"AEGIS_S3_ENDPOINT"`
	S3AccessKey     string `env:"AEGIS_S3_ACCESS_KEY"`
	S3SecretKey     string `env:"AEGIS_S3_SECRET_KEY"`
	S3PublicBaseURL string `env:"AEGIS_S3_PUBLIC_BASE_URL"`

	// If true, /readyz returns 503 unless the database is reachable.
	ReadinessRequireDB bool `env:"AEGIS_READINESS_REQUIRE_DB, default=true"`

	// If true, embedded migrations run at startup.
	MigrateOnStart bool `env:"AEGIS_MIGRATE_ON_START, default=true"`
}

// LoadConfig loads Config from the environment (and .env, best effort).
func LoadConfig(ctx context.Context) (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
