package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"aegis/cmd/identity"
	"aegis/cmd/security/signer"
	"aegis/cmd/security/token"
)

// TokenSigner is the token-pair boundary the engine depends on.
type TokenSigner interface {
	SignAccess(id signer.Identity) (string, time.Time, error)
	SignRefresh(id signer.Identity, ttl time.Duration) (string, time.Time, error)
	VerifyRefresh(raw string) (signer.Identity, error)
}

// Service implements the high-level session operations for Aegis.
//
// It admits new device sessions under a per-account quota, rotates refresh
// tokens in place, and revokes sessions one at a time, account-wide, or
// account-wide except the caller.
type Service struct {
	cfg    Config
	store  Store
	tokens TokenSigner
}

// Issued is the result of admitting or refreshing a session.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens TokenSigner) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || tokens == nil {
		return nil, ErrConfig
	}
	return &Service{cfg: cfg, store: store, tokens: tokens}, nil
}

// AdmitOrRotate issues a token pair for an authenticated account on a device.
//
// A login from a device tuple that already holds a session rotates that row
// in place (same session ID) and never counts against the quota. A new
// device inserts a row, failing with ErrQuotaExceeded at capacity.
func (s *Service) AdmitOrRotate(ctx context.Context, now time.Time, id signer.Identity, dev Device, rememberMe bool) (Issued, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	refreshPlain, refreshExp, err := s.tokens.SignRefresh(id, s.cfg.ttl(rememberMe))
	if err != nil {
		return Issued{}, err
	}
	refreshHash := token.HashHex(refreshPlain)

	existing, err := s.store.FindByFingerprint(ctx, id.AccountID, dev)
	switch {
	case err == nil:
		if err := s.store.Rotate(ctx, existing.ID, refreshHash, refreshExp, rememberMe, now); err != nil {
			return Issued{}, err
		}
		return s.issued(id, existing.ID, refreshPlain, refreshExp)

	case errors.Is(err, ErrSessionNotFound):
		n, err := s.store.CountByAccount(ctx, id.AccountID)
		if err != nil {
			return Issued{}, err
		}
		if n >= s.cfg.MaxSessionsPerAccount {
			return Issued{}, ErrQuotaExceeded
		}

		sessionID, err := identity.NewULID(now)
		if err != nil {
			return Issued{}, err
		}
		err = s.store.Create(ctx, Session{
			ID:               sessionID,
			AccountID:        id.AccountID,
			UserAgent:        dev.UserAgent,
			IP:               dev.IP,
			RefreshTokenHash: refreshHash,
			RememberMe:       rememberMe,
			ExpiresAt:        refreshExp,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if errors.Is(err, ErrFingerprintConflict) {
			// A concurrent login from the same device won the insert.
			// Rotate the winner's row instead.
			existing, ferr := s.store.FindByFingerprint(ctx, id.AccountID, dev)
			if ferr != nil {
				return Issued{}, ferr
			}
			if rerr := s.store.Rotate(ctx, existing.ID, refreshHash, refreshExp, rememberMe, now); rerr != nil {
				return Issued{}, rerr
			}
			return s.issued(id, existing.ID, refreshPlain, refreshExp)
		}
		if err != nil {
			return Issued{}, err
		}
		return s.issued(id, sessionID, refreshPlain, refreshExp)

	default:
		return Issued{}, err
	}
}

// Refresh rotates a session's refresh token in place.
//
// The presented token must carry a valid signature, match a stored digest,
// and arrive from the device tuple the session is bound to. A fingerprint
// mismatch destroys the session before ErrSessionMismatch surfaces. The
// session's own remember-me policy picks the new expiry, so an active
// device keeps sliding forward.
//
// Two holders of the same not-yet-rotated token race as last-writer-wins:
// the loser's pair dies at access-token expiry.
func (s *Service) Refresh(ctx context.Context, now time.Time, rawRefresh string, dev Device) (Issued, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" || len(rawRefresh) > 4096 {
		return Issued{}, ErrInvalidRefreshToken
	}

	id, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return Issued{}, ErrInvalidRefreshToken
	}

	sess, err := s.store.FindByRefreshHash(ctx, token.HashHex(rawRefresh))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Issued{}, ErrInvalidRefreshToken
		}
		return Issued{}, err
	}

	if sess.AccountID != id.AccountID || sess.Device() != dev {
		// A valid token from the wrong device means the token leaked.
		// Destroy the session so the legitimate holder is cut off too.
		if derr := s.store.Delete(ctx, sess.ID); derr != nil {
			return Issued{}, derr
		}
		return Issued{}, ErrSessionMismatch
	}

	newPlain, newExp, err := s.tokens.SignRefresh(id, s.cfg.ttl(sess.RememberMe))
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Rotate(ctx, sess.ID, token.HashHex(newPlain), newExp, sess.RememberMe, now); err != nil {
		return Issued{}, err
	}
	return s.issued(id, sess.ID, newPlain, newExp)
}

// Terminate removes a single session by ID (logout of one device).
func (s *Service) Terminate(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// TerminateByRefreshToken removes the session holding the given refresh
// token, if any. Idempotent: logging out an already-dead session succeeds.
func (s *Service) TerminateByRefreshToken(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}
	return s.store.DeleteByRefreshHash(ctx, token.HashHex(rawRefresh))
}

// TerminateOthers removes every session of an account except the one
// holding the caller's refresh token.
func (s *Service) TerminateOthers(ctx context.Context, accountID, rawRefresh string) error {
	return s.store.DeleteByAccount(ctx, accountID, token.HashHex(rawRefresh))
}

// RevokeAll removes every session of an account. Password reset and
// account deletion hook in here: both invalidate all proof of login.
func (s *Service) RevokeAll(ctx context.Context, accountID string) error {
	return s.store.DeleteByAccount(ctx, accountID, "")
}

// Get loads one session row.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	return s.store.GetByID(ctx, sessionID)
}

// ListByAccount returns an account's sessions, most recently used first.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]Session, error) {
	return s.store.ListByAccount(ctx, accountID)
}

// CountByAccount reports an account's session count.
func (s *Service) CountByAccount(ctx context.Context, accountID string) (int, error) {
	return s.store.CountByAccount(ctx, accountID)
}

func (s *Service) issued(id signer.Identity, sessionID, refreshPlain string, refreshExp time.Time) (Issued, error) {
	accessToken, accessExp, err := s.tokens.SignAccess(id)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}
