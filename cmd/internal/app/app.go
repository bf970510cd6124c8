// Package app wires the Aegis server runtime: config, logging, storage,
// the authentication surface and the admin surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"aegis/cmd/identity"
	adminapi "aegis/cmd/internal/admin/api"
	authapi "aegis/cmd/internal/auth/api"
	"aegis/cmd/internal/auth/session"
	"aegis/cmd/internal/avatar"
	"aegis/cmd/internal/googleid"
	"aegis/cmd/internal/mail"
	"aegis/cmd/internal/sessionview"
	"aegis/cmd/security/password"
	"aegis/cmd/security/signer"
)

// App owns the HTTP server wiring and the database pool lifecycle.
type App struct {
	cfg  Config
	log  Logger
	pool *pgxpool.Pool

	auth  *authapi.Handler
	admin *adminapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.MigrateOnStart {
		if err := MigrateUp(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("db.migrations.applied")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessStore, err := session.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, err
	}

	tokens, err := signer.New(
		[]byte(cfg.AccessTokenSecret),
		[]byte(cfg.RefreshTokenSecret),
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessions, err := session.NewService(session.Config{
		MaxSessionsPerAccount: cfg.MaxSessionsPerAccount,
		RefreshTTL:            cfg.RefreshTokenTTL,
		RememberMeTTL:         cfg.RememberMeTTL,
	}, sessStore, tokens)
	if err != nil {
		pool.Close()
		return nil, err
	}

	presenter := sessionview.New(cfg.IPInfoToken)

	mailer, err := newMailer(cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	authOpts := []authapi.Option{authapi.WithAuditPool(pool)}
	if cfg.GoogleClientID != "" {
		g, err := googleid.New(cfg.GoogleClientID)
		if err != nil {
			pool.Close()
			return nil, err
		}
		authOpts = append(authOpts, authapi.WithGoogle(g))
	} else {
		log.Info("google_login.disabled")
	}

	avatarCfg := avatar.Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		PublicBaseURL: cfg.S3PublicBaseURL,
	}
	if avatarCfg.Enabled() {
		store, err := avatar.New(ctx, avatarCfg)
		if err != nil {
			pool.Close()
			return nil, err
		}
		authOpts = append(authOpts, authapi.WithAvatars(store))
	} else {
		log.Info("avatar_upload.disabled")
	}

	authHandler, err := authapi.New(authapi.Config{
		TrustProxy:      cfg.TrustProxy,
		OpaqueTokenTTL:  cfg.OpaqueTokenTTL,
		CookieDomain:    cfg.CookieDomain,
		CookieSecure:    cfg.CookieSecure,
		CookieCrossSite: cfg.CookieCrossSite,
	}, log, accounts, sessions, tokens, password.DefaultConfig(), mailer, presenter, authOpts...)
	if err != nil {
		pool.Close()
		return nil, err
	}

	adminHandler, err := adminapi.New(log, accounts, sessions, tokens, presenter)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		auth:  authHandler,
		admin: adminHandler,
	}, nil
}

// newMailer picks SMTP delivery when configured, otherwise a logging
// stand-in for development.
func newMailer(cfg Config, log Logger) (authapi.Mailer, error) {
	if cfg.SMTPHost == "" {
		log.Warn("mail.disabled.log_only")
		return logMailer{log: log, clientURL: cfg.ClientURL}, nil
	}
	sender, err := mail.New(mail.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.MailFrom,
		ClientURL: cfg.ClientURL,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// logMailer logs links instead of delivering them. Development only.
type logMailer struct {
	log       Logger
	clientURL string
}

func (m logMailer) SendVerification(_ context.Context, to, _, rawToken string) error {
	m.log.Info("mail.log_only.verification", "to", to, "link", m.clientURL+"/verify-email/"+rawToken)
	return nil
}

func (m logMailer) SendPasswordReset(_ context.Context, to, _, rawToken string) error {
	m.log.Info("mail.log_only.password_reset", "to", to, "link", m.clientURL+"/reset-password/"+rawToken)
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(a.router(), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.pool.Close()
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
