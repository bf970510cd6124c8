package session

import (
	"context"
	"time"
)

// Device is the client tuple a session is bound to. Together with the
// account ID it forms the session fingerprint; it never changes once the
// row exists.
type Device struct {
	UserAgent string
	IP        string
}

// Session mirrors the aegis.sessions row.
type Session struct {
	ID               string
	AccountID        string
	UserAgent        string
	IP               string
	RefreshTokenHash string
	RememberMe       bool
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Device returns the fingerprint tuple of the session.
func (s Session) Device() Device {
	return Device{UserAgent: s.UserAgent, IP: s.IP}
}

// Store abstracts persistence for session state.
//
// Every mutation is a single-row, all-or-nothing write; callers rely on the
// unique constraints on refresh_token_hash and (account_id, user_agent, ip)
// as the last line of defense under concurrent logins.
type Store interface {
	// Create inserts a new session row. ErrFingerprintConflict signals a
	// lost race against a concurrent login from the same device tuple.
	Create(ctx context.Context, s Session) error

	// GetByID loads a session row by ID. ErrSessionNotFound when absent.
	GetByID(ctx context.Context, sessionID string) (Session, error)

	// FindByFingerprint loads the session for a device tuple.
	// ErrSessionNotFound when absent.
	FindByFingerprint(ctx context.Context, accountID string, dev Device) (Session, error)

	// FindByRefreshHash loads the session holding a refresh digest.
	// ErrSessionNotFound when absent.
	FindByRefreshHash(ctx context.Context, refreshHash string) (Session, error)

	// CountByAccount reports how many session rows an account holds.
	CountByAccount(ctx context.Context, accountID string) (int, error)

	// Rotate replaces the refresh digest, expiry and remember-me policy of
	// an existing row in place, bumping updated_at. The session ID and the
	// device tuple are preserved.
	Rotate(ctx context.Context, sessionID, newRefreshHash string, expiresAt time.Time, rememberMe bool, now time.Time) error

	// Delete removes a single session row (idempotent).
	Delete(ctx context.Context, sessionID string) error

	// DeleteByRefreshHash removes the row holding a refresh digest
	// (idempotent).
	DeleteByRefreshHash(ctx context.Context, refreshHash string) error

	// DeleteByAccount removes an account's sessions. A non-empty
	// exceptRefreshHash preserves exactly that row (logout everywhere else).
	DeleteByAccount(ctx context.Context, accountID, exceptRefreshHash string) error

	// ListByAccount returns an account's sessions, most recently used first.
	ListByAccount(ctx context.Context, accountID string) ([]Session, error)
}
