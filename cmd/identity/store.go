package identity

import (
	"context"
	"time"
)

// Roles assignable to an account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Providers an account can originate from.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// Account is Aegis's canonical security principal.
type Account struct {
	ID       string
	Email    string
	FullName string

	AvatarURL *string

	// PasswordHash is nil for federated-only accounts. A local account must
	// have a hash before password login can succeed.
	PasswordHash *string

	Provider string
	Role     string
	Verified bool

	// One-time action tokens, stored as SHA-256 hex digests.
	// Reissuing supersedes the previous digest; success clears it.
	VerifyTokenHash      *string
	VerifyTokenExpiresAt *time.Time
	ResetTokenHash       *string
	ResetTokenExpiresAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAccountInput describes a registration.
// PasswordHash is nil for federated accounts.
type CreateAccountInput struct {
	Email        string
	FullName     string
	AvatarURL    *string
	PasswordHash *string
	Provider     string
	Role         string
	Verified     bool
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)

	// GetByVerifyToken / GetByResetToken look up by digest AND unexpired
	// expiry in one query; a used, superseded, or expired token is
	// indistinguishable from an unknown one (ErrNotFound).
	GetByVerifyToken(ctx context.Context, tokenHash string, now time.Time) (Account, error)
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (Account, error)

	SetVerifyToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error
	SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error

	// MarkVerified flips the flag and clears the verification token fields.
	MarkVerified(ctx context.Context, accountID string, now time.Time) error

	// UpdatePassword replaces the hash and clears the reset token fields.
	UpdatePassword(ctx context.Context, accountID, passwordHash string, now time.Time) error

	UpdateAvatar(ctx context.Context, accountID, avatarURL string) error
	SetRole(ctx context.Context, accountID, role string) error
	DeleteAccount(ctx context.Context, accountID string) error

	// ListVerifiedExcept returns all verified accounts except the given one,
	// newest first. Admin surface only.
	ListVerifiedExcept(ctx context.Context, excludeID string) ([]Account, error)
}
