package authapi

import (
	"context"
	"errors"
	"net/http"

	"aegis/cmd/identity"
	"aegis/cmd/security/signer"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// IdentityFrom returns the authenticated identity attached by RequireAuth.
func IdentityFrom(ctx context.Context) (signer.Identity, bool) {
	id, ok := ctx.Value(identityKey).(signer.Identity)
	return id, ok
}

// RequireAuth verifies the accessToken cookie and attaches the caller's
// identity to the request context.
//
// An expired token answers 401 token_expired, everything else 401
// unauthorized. Clients treat token_expired as "refresh once and retry";
// any other 401 is a hard logout.
func RequireAuth(tokens *signer.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := cookieValue(r, accessCookieName)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			id, err := tokens.VerifyAccess(raw)
			if err != nil {
				if errors.Is(err, signer.ErrTokenExpired) {
					writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route on the admin role. Must run inside RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if id.Role != identity.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
