// Package adminapi exposes the account administration surface. Every route
// sits behind the access guard plus the admin role gate.
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/cmd/identity"
	authapi "aegis/cmd/internal/auth/api"
	"aegis/cmd/internal/auth/session"
	"aegis/cmd/internal/sessionview"
	"aegis/cmd/security/signer"
)

// Account activity states derived from an account's session rows.
const (
	statusActive   = "active"   // at least one unexpired session
	statusExpired  = "expired"  // rows exist, all past expiry
	statusInactive = "inactive" // no session rows at all
)

// Presenter decorates session rows for display.
type Presenter interface {
	Render(ctx context.Context, rows []session.Session, currentRefreshHash string) []sessionview.View
}

// Handler serves the /admin surface.
type Handler struct {
	log       *slog.Logger
	accounts  identity.Store
	sessions  *session.Service
	tokens    *signer.Signer
	presenter Presenter
}

// New constructs a Handler.
func New(log *slog.Logger, accounts identity.Store, sessions *session.Service, tokens *signer.Signer, presenter Presenter) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if accounts == nil || sessions == nil || tokens == nil || presenter == nil {
		return nil, errors.New("adminapi: missing required collaborator")
	}
	return &Handler{log: log, accounts: accounts, sessions: sessions, tokens: tokens, presenter: presenter}, nil
}

// Routes returns the /admin router. Mount it at /admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authapi.RequireAuth(h.tokens))
	r.Use(authapi.RequireAdmin)

	r.Get("/users", h.handleListUsers)
	r.Get("/users/{id}", h.handleUserSessions)
	r.Patch("/users/{id}", h.handleSetRole)
	r.Delete("/users/{id}", h.handleDeleteUser)
	r.Post("/users/session/{id}", h.handleTerminateSession)

	return r
}

type userSummary struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	AvatarURL    *string   `json:"avatarUrl"`
	Role         string    `json:"role"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
	SessionCount int       `json:"sessionCount"`
	Status       string    `json:"status"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := authapi.IdentityFrom(ctx)
	now := time.Now().UTC()

	accounts, err := h.accounts.ListVerifiedExcept(ctx, caller.AccountID)
	if err != nil {
		h.log.Error("admin.users.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not list users")
		return
	}

	out := make([]userSummary, 0, len(accounts))
	for _, a := range accounts {
		rows, err := h.sessions.ListByAccount(ctx, a.ID)
		if err != nil {
			h.log.Error("admin.users.sessions.fail", "err", err, "account", a.ID)
			writeError(w, http.StatusInternalServerError, "internal", "could not list users")
			return
		}
		out = append(out, userSummary{
			ID:           a.ID,
			Email:        a.Email,
			FullName:     a.FullName,
			AvatarURL:    a.AvatarURL,
			Role:         a.Role,
			Provider:     a.Provider,
			CreatedAt:    a.CreatedAt,
			SessionCount: len(rows),
			Status:       activityStatus(rows, now),
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Users []userSummary `json:"users"`
	}{out})
}

func activityStatus(rows []session.Session, now time.Time) string {
	if len(rows) == 0 {
		return statusInactive
	}
	for _, s := range rows {
		if s.ExpiresAt.After(now) {
			return statusActive
		}
	}
	return statusExpired
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "id")

	if _, err := h.accounts.GetByID(ctx, accountID); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("admin.user.get.fail", "err", err, "account", accountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not load user")
		return
	}

	rows, err := h.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		h.log.Error("admin.user.sessions.fail", "err", err, "account", accountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not load sessions")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []sessionview.View `json:"sessions"`
	}{h.presenter.Render(ctx, rows, "")})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := authapi.IdentityFrom(ctx)
	accountID := chi.URLParam(r, "id")

	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request")
		return
	}
	if req.Role != identity.RoleUser && req.Role != identity.RoleAdmin {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be user or admin")
		return
	}
	if accountID == caller.AccountID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot change your own role")
		return
	}

	if err := h.accounts.SetRole(ctx, accountID, req.Role); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("admin.user.role.fail", "err", err, "account", accountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not update role")
		return
	}
	h.log.Info("admin.user.role.set", "account", accountID, "role", req.Role, "by", caller.AccountID)
	writeJSON(w, http.StatusOK, messageResponse{"role updated"})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := authapi.IdentityFrom(ctx)
	accountID := chi.URLParam(r, "id")

	if accountID == caller.AccountID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot delete your own account")
		return
	}
	if _, err := h.accounts.GetByID(ctx, accountID); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("admin.user.get.fail", "err", err, "account", accountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not delete user")
		return
	}

	// Session rows go with the account (ON DELETE CASCADE); revoke first so
	// in-memory stores behave the same.
	if err := h.sessions.RevokeAll(ctx, accountID); err != nil {
		h.log.Error("admin.user.revoke.fail", "err", err, "account", accountID)
	}
	if err := h.accounts.DeleteAccount(ctx, accountID); err != nil {
		h.log.Error("admin.user.delete.fail", "err", err, "account", accountID)
		writeError(w, http.StatusInternalServerError, "internal", "could not delete user")
		return
	}
	h.log.Info("admin.user.deleted", "account", accountID, "by", caller.AccountID)
	writeJSON(w, http.StatusOK, messageResponse{"user deleted"})
}

func (h *Handler) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := authapi.IdentityFrom(ctx)
	sessionID := chi.URLParam(r, "id")

	if _, err := h.sessions.Get(ctx, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err := h.sessions.Terminate(ctx, sessionID); err != nil {
		h.log.Error("admin.session.terminate.fail", "err", err, "session", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "could not terminate session")
		return
	}
	h.log.Info("admin.session.terminated", "session", sessionID, "by", caller.AccountID)
	writeJSON(w, http.StatusOK, messageResponse{"session terminated"})
}
