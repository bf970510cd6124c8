package authapi

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aegis/cmd/identity"
	"aegis/cmd/internal/auth/session"
	"aegis/cmd/security/password"
	"aegis/cmd/security/signer"
	"aegis/cmd/security/token"
)

// Handler serves the /auth surface.
type Handler struct {
	cfg       Config
	log       *slog.Logger
	accounts  identity.Store
	sessions  *session.Service
	tokens    *signer.Signer
	hasher    password.Config
	mailer    Mailer
	presenter Presenter

	// Optional collaborators. A nil google verifier disables federated
	// login, a nil uploader disables avatars, a nil pool disables audit.
	google  GoogleVerifier
	avatars AvatarUploader
	pool    *pgxpool.Pool
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithGoogle enables Google ID-token login.
func WithGoogle(v GoogleVerifier) Option { return func(h *Handler) { h.google = v } }

// WithAvatars enables avatar upload at registration.
func WithAvatars(u AvatarUploader) Option { return func(h *Handler) { h.avatars = u } }

// WithAuditPool enables the append-only audit trail.
func WithAuditPool(pool *pgxpool.Pool) Option { return func(h *Handler) { h.pool = pool } }

// New constructs a Handler.
func New(cfg Config, log *slog.Logger, accounts identity.Store, sessions *session.Service, tokens *signer.Signer, hasher password.Config, mailer Mailer, presenter Presenter, opts ...Option) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if accounts == nil || sessions == nil || tokens == nil || mailer == nil || presenter == nil {
		return nil, errors.New("authapi: missing required collaborator")
	}
	h := &Handler{
		cfg:       cfg.withDefaults(),
		log:       log,
		accounts:  accounts,
		sessions:  sessions,
		tokens:    tokens,
		hasher:    hasher,
		mailer:    mailer,
		presenter: presenter,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the /auth router. Mount it at /auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.handleRegister)
	r.Get("/verify/{token}", h.handleVerify)
	r.Post("/email/resend", h.handleResendVerification)
	r.Post("/login", h.handleLogin)
	r.Post("/login/google", h.handleGoogleLogin)
	r.Get("/refresh", h.handleRefresh)
	r.Post("/logout", h.handleLogout)
	r.Post("/password/forgot", h.handleForgotPassword)
	r.Post("/password/reset/{token}", h.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens))
		r.Get("/profile", h.handleProfile)
		r.Get("/sessions", h.handleListSessions)
		r.Post("/sessions/{id}", h.handleTerminateSession)
		r.Post("/logout/all", h.handleLogoutAll)
	})

	return r
}

// ---- registration & verification ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxAvatarBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart form required")
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	fullName := strings.TrimSpace(r.FormValue("fullName"))
	pass := r.FormValue("password")
	if email == "" || fullName == "" || pass == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email, fullName and password are required")
		return
	}

	hash, err := h.hasher.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "weak_password", err.Error())
			return
		}
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	acct, err := h.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        email,
		FullName:     fullName,
		PasswordHash: &hash,
		Provider:     identity.ProviderLocal,
		Role:         identity.RoleUser,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "duplicate_email", "an account with this email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration input")
		default:
			h.log.Error("auth.register.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		}
		return
	}

	// Avatar upload is best effort. The account exists either way.
	if file, header, ferr := r.FormFile("avatar"); ferr == nil {
		h.uploadAvatar(r, acct.ID, file, header)
		_ = file.Close()
		if refreshed, gerr := h.accounts.GetByID(ctx, acct.ID); gerr == nil {
			acct = refreshed
		}
	}

	if err := h.issueVerification(r, acct, now); err != nil {
		h.log.Error("auth.register.verify_mail.fail", "err", err, "account", acct.ID)
		writeError(w, http.StatusInternalServerError, "internal", "could not send verification email")
		return
	}

	registrationsTotal.Inc()
	h.log.Info("auth.register.ok", "account", acct.ID)
	writeJSON(w, http.StatusCreated, struct {
		accountEnvelope
		messageResponse
	}{accountEnvelope{toAccountResponse(acct)}, messageResponse{"verification email sent"}})
}

func (h *Handler) uploadAvatar(r *http.Request, accountID string, file multipart.File, header *multipart.FileHeader) {
	if h.avatars == nil {
		return
	}
	ctx := r.Context()
	url, err := h.avatars.Upload(ctx, accountID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		h.log.Warn("auth.register.avatar.fail", "err", err, "account", accountID)
		return
	}
	if err := h.accounts.UpdateAvatar(ctx, accountID, url); err != nil {
		h.log.Warn("auth.register.avatar.save.fail", "err", err, "account", accountID)
	}
}

// issueVerification mints a fresh verification token, persists its digest
// and mails the raw value. Any previous token is superseded.
func (h *Handler) issueVerification(r *http.Request, acct identity.Account, now time.Time) error {
	raw, err := token.NewOpaque(token.DefaultOpaqueBytes)
	if err != nil {
		return err
	}
	if err := h.accounts.SetVerifyToken(r.Context(), acct.ID, token.HashHex(raw), now.Add(h.cfg.OpaqueTokenTTL)); err != nil {
		return err
	}
	return h.mailer.SendVerification(r.Context(), acct.Email, acct.FullName, raw)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	raw := chi.URLParam(r, "token")
	acct, err := h.accounts.GetByVerifyToken(ctx, token.HashHex(raw), now)
	if err != nil {
		if identity.IsNotFound(err) {
			// Used, superseded, expired and never-issued all look alike.
			writeError(w, http.StatusGone, "verify_link_invalid", "verification link is invalid or has expired")
			return
		}
		h.log.Error("auth.verify.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "verification failed")
		return
	}

	if err := h.accounts.MarkVerified(ctx, acct.ID, now); err != nil {
		h.log.Error("auth.verify.mark.fail", "err", err, "account", acct.ID)
		writeError(w, http.StatusInternalServerError, "internal", "verification failed")
		return
	}
	acct.Verified = true

	// Verification doubles as the first login.
	issued, err := h.sessions.AdmitOrRotate(ctx, now, accountIdentity(acct), requestDevice(r, h.cfg.TrustProxy), false)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	h.setAuthCookies(w, issued)
	writeJSON(w, http.StatusOK, accountEnvelope{toAccountResponse(acct)})
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	var req emailRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	// The response never reveals whether the address exists.
	acct, err := h.accounts.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if err == nil && !acct.Verified && acct.Provider == identity.ProviderLocal {
		if merr := h.issueVerification(r, acct, now); merr != nil {
			h.log.Error("auth.resend.fail", "err", merr, "account", acct.ID)
			writeError(w, http.StatusInternalServerError, "internal", "could not send verification email")
			return
		}
	} else if err != nil && !identity.IsNotFound(err) {
		h.log.Error("auth.resend.lookup.fail", "err", err)
	}

	writeJSON(w, http.StatusOK, messageResponse{"if the account exists and is unverified, a new link has been sent"})
}

// ---- login & federated login ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	dev := requestDevice(r, h.cfg.TrustProxy)
	info := deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed login request")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	// Unknown email, wrong password, federated-only and unverified accounts
	// all collapse into one answer. Nothing here may leak which it was.
	acct, err := h.accounts.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			h.failLogin(w, r, nil, info, email, "unknown_email")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}
	if acct.PasswordHash == nil {
		h.failLogin(w, r, &acct.ID, info, email, "no_password")
		return
	}
	ok, err := h.hasher.Verify(*acct.PasswordHash, req.Password)
	if err != nil || !ok {
		h.failLogin(w, r, &acct.ID, info, email, "bad_password")
		return
	}
	if !acct.Verified {
		h.failLogin(w, r, &acct.ID, info, email, "unverified")
		return
	}

	issued, err := h.sessions.AdmitOrRotate(ctx, now, accountIdentity(acct), dev, req.RememberMe)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	loginsTotal.WithLabelValues("success").Inc()
	h.auditLoginSuccess(ctx, acct.ID, issued.SessionID, info)
	h.setAuthCookies(w, issued)
	writeJSON(w, http.StatusOK, accountEnvelope{toAccountResponse(acct)})
}

func (h *Handler) failLogin(w http.ResponseWriter, r *http.Request, accountID *string, info deviceInfo, email, reason string) {
	loginsTotal.WithLabelValues("failure").Inc()
	h.auditLoginFailed(r.Context(), accountID, info, email, reason)
	writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
}

func (h *Handler) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "google_login_unavailable", "google login is not configured")
		return
	}

	var req googleLoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "idToken is required")
		return
	}

	profile, err := h.google.Verify(ctx, req.IDToken)
	if err != nil {
		loginsTotal.WithLabelValues("failure").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "google token rejected")
		return
	}

	acct, err := h.accounts.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		// Existing account, local or federated. Google has already proven
		// control of the mailbox.
	case identity.IsNotFound(err):
		var avatarURL *string
		if profile.Picture != "" {
			avatarURL = &profile.Picture
		}
		acct, err = h.accounts.CreateAccount(ctx, identity.CreateAccountInput{
			Email:     profile.Email,
			FullName:  profile.Name,
			AvatarURL: avatarURL,
			Provider:  identity.ProviderGoogle,
			Role:      identity.RoleUser,
			Verified:  true,
			Now:       now,
		})
		if err != nil {
			h.log.Error("auth.google.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "login failed")
			return
		}
	default:
		h.log.Error("auth.google.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	dev := requestDevice(r, h.cfg.TrustProxy)
	issued, err := h.sessions.AdmitOrRotate(ctx, now, accountIdentity(acct), dev, req.RememberMe)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	loginsTotal.WithLabelValues("success").Inc()
	h.auditLoginSuccess(ctx, acct.ID, issued.SessionID, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
	h.setAuthCookies(w, issued)
	writeJSON(w, http.StatusOK, accountEnvelope{toAccountResponse(acct)})
}

// ---- refresh & logout ----

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	dev := requestDevice(r, h.cfg.TrustProxy)

	raw, ok := cookieValue(r, refreshCookieName)
	if !ok {
		refreshesTotal.WithLabelValues("failure").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "no refresh token")
		return
	}

	issued, err := h.sessions.Refresh(ctx, now, raw, dev)
	if err != nil {
		h.clearAuthCookies(w)
		switch {
		case errors.Is(err, session.ErrSessionMismatch):
			refreshesTotal.WithLabelValues("mismatch").Inc()
			h.auditSessionMismatch(ctx, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
			writeError(w, http.StatusUnauthorized, "session_mismatch", "session bound to another device")
		case errors.Is(err, session.ErrInvalidRefreshToken):
			refreshesTotal.WithLabelValues("failure").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token rejected")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "refresh failed")
		}
		return
	}

	refreshesTotal.WithLabelValues("success").Inc()
	h.auditRefresh(ctx, issued.SessionID, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
	h.setAuthCookies(w, issued)
	writeJSON(w, http.StatusOK, messageResponse{"tokens refreshed"})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dev := requestDevice(r, h.cfg.TrustProxy)

	if raw, ok := cookieValue(r, refreshCookieName); ok {
		if err := h.sessions.TerminateByRefreshToken(ctx, raw); err != nil {
			h.log.Error("auth.logout.fail", "err", err)
		}
	}

	// Cookies die regardless of whether the session row still existed.
	h.clearAuthCookies(w)
	h.auditLogout(ctx, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
	writeJSON(w, http.StatusOK, messageResponse{"logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)
	dev := requestDevice(r, h.cfg.TrustProxy)

	raw, _ := cookieValue(r, refreshCookieName)
	if err := h.sessions.TerminateOthers(ctx, id.AccountID, raw); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "account", id.AccountID)
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}

	h.auditLogoutAll(ctx, id.AccountID, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
	writeJSON(w, http.StatusOK, messageResponse{"logged out everywhere else"})
}

// ---- session management ----

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)

	rows, err := h.sessions.ListByAccount(ctx, id.AccountID)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err, "account", id.AccountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not list sessions")
		return
	}

	var currentHash string
	if raw, ok := cookieValue(r, refreshCookieName); ok {
		currentHash = token.HashHex(raw)
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions any `json:"sessions"`
	}{h.presenter.Render(ctx, rows, currentHash)})
}

func (h *Handler) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)
	sessionID := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil || sess.AccountID != id.AccountID {
		// Someone else's session is indistinguishable from a missing one.
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	if err := h.sessions.Terminate(ctx, sessionID); err != nil {
		h.log.Error("auth.sessions.terminate.fail", "err", err, "session", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "could not terminate session")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{"session terminated"})
}

// ---- password recovery ----

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	var req emailRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	// Uniform answer whether the account exists, is federated, or the mail
	// bounces. Reset requests are not an account oracle.
	acct, err := h.accounts.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if err == nil && acct.Provider == identity.ProviderLocal {
		if merr := h.issueReset(r, acct, now); merr != nil {
			h.log.Error("auth.forgot.fail", "err", merr, "account", acct.ID)
		}
	} else if err != nil && !identity.IsNotFound(err) {
		h.log.Error("auth.forgot.lookup.fail", "err", err)
	}

	writeJSON(w, http.StatusOK, messageResponse{"if the account exists, a reset link has been sent"})
}

func (h *Handler) issueReset(r *http.Request, acct identity.Account, now time.Time) error {
	raw, err := token.NewOpaque(token.DefaultOpaqueBytes)
	if err != nil {
		return err
	}
	if err := h.accounts.SetResetToken(r.Context(), acct.ID, token.HashHex(raw), now.Add(h.cfg.OpaqueTokenTTL)); err != nil {
		return err
	}
	return h.mailer.SendPasswordReset(r.Context(), acct.Email, acct.FullName, raw)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	dev := requestDevice(r, h.cfg.TrustProxy)

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	raw := chi.URLParam(r, "token")
	acct, err := h.accounts.GetByResetToken(ctx, token.HashHex(raw), now)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusGone, "reset_link_invalid", "reset link is invalid or has expired")
			return
		}
		h.log.Error("auth.reset.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "reset failed")
		return
	}

	if acct.PasswordHash != nil {
		if same, _ := h.hasher.Verify(*acct.PasswordHash, req.Password); same {
			writeError(w, http.StatusBadRequest, "password_unchanged", "new password must differ from the current one")
			return
		}
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "weak_password", err.Error())
			return
		}
		h.log.Error("auth.reset.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "reset failed")
		return
	}

	if err := h.accounts.UpdatePassword(ctx, acct.ID, hash, now); err != nil {
		h.log.Error("auth.reset.update.fail", "err", err, "account", acct.ID)
		writeError(w, http.StatusInternalServerError, "internal", "reset failed")
		return
	}

	// A changed password invalidates every proof of the old one.
	if err := h.sessions.RevokeAll(ctx, acct.ID); err != nil {
		h.log.Error("auth.reset.revoke.fail", "err", err, "account", acct.ID)
	}

	h.auditPasswordReset(ctx, acct.ID, deviceInfo{IP: dev.IP, UserAgent: dev.UserAgent})
	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{"password updated, please log in again"})
}

// ---- profile ----

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)

	acct, err := h.accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
			return
		}
		h.log.Error("auth.profile.fail", "err", err, "account", id.AccountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not load profile")
		return
	}
	writeJSON(w, http.StatusOK, accountEnvelope{toAccountResponse(acct)})
}

// ---- shared ----

func accountIdentity(a identity.Account) signer.Identity {
	return signer.Identity{AccountID: a.ID, Email: a.Email, Role: a.Role}
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrQuotaExceeded) {
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", "maximum number of active sessions reached")
		return
	}
	h.log.Error("auth.session.fail", "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "could not establish session")
}
