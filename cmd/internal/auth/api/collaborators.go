package authapi

import (
	"context"
	"io"

	"aegis/cmd/internal/auth/session"
	"aegis/cmd/internal/googleid"
	"aegis/cmd/internal/sessionview"
)

// Mailer delivers account lifecycle mail. Verification delivery failures
// fail the request that minted the token; reset delivery failures are
// swallowed to keep the forgot-password response uniform.
type Mailer interface {
	SendVerification(ctx context.Context, to, fullName, rawToken string) error
	SendPasswordReset(ctx context.Context, to, fullName, rawToken string) error
}

// GoogleVerifier validates a Google ID token and extracts the profile.
type GoogleVerifier interface {
	Verify(ctx context.Context, raw string) (googleid.Profile, error)
}

// AvatarUploader stores a profile image and returns its public URL.
type AvatarUploader interface {
	Upload(ctx context.Context, accountID, filename, contentType string, body io.Reader, size int64) (string, error)
}

// Presenter decorates session rows for the device list.
type Presenter interface {
	Render(ctx context.Context, rows []session.Session, currentRefreshHash string) []sessionview.View
}
