package authapi

import (
	"context"
	"encoding/json"
	"strings"
)

// Audit events are best effort. A broken audit trail must never fail an
// authentication request; failures are logged and dropped.

func (h *Handler) auditLoginFailed(ctx context.Context, accountID *string, dev deviceInfo, email, reason string) {
	h.insertAudit(ctx, "auth.login.failed", accountID, nil, dev, map[string]any{
		"email":  email,
		"reason": reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, accountID, sessionID string, dev deviceInfo) {
	h.insertAudit(ctx, "auth.login.success", &accountID, &sessionID, dev, nil)
}

func (h *Handler) auditRefresh(ctx context.Context, sessionID string, dev deviceInfo) {
	h.insertAudit(ctx, "auth.refresh.success", nil, &sessionID, dev, nil)
}

func (h *Handler) auditSessionMismatch(ctx context.Context, dev deviceInfo) {
	h.insertAudit(ctx, "auth.refresh.mismatch", nil, nil, dev, nil)
}

func (h *Handler) auditLogout(ctx context.Context, dev deviceInfo) {
	h.insertAudit(ctx, "auth.logout", nil, nil, dev, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, accountID string, dev deviceInfo) {
	h.insertAudit(ctx, "auth.logout_all", &accountID, nil, dev, nil)
}

func (h *Handler) auditPasswordReset(ctx context.Context, accountID string, dev deviceInfo) {
	h.insertAudit(ctx, "auth.password.reset", &accountID, nil, dev, nil)
}

type deviceInfo struct {
	IP        string
	UserAgent string
}

func (h *Handler) insertAudit(ctx context.Context, action string, accountID, sessionID *string, dev deviceInfo, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO aegis.audit_log (
			account_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, accountID, sessionID, action, trimOrNil(dev.IP), trimOrNil(dev.UserAgent), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
