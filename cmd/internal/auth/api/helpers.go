package authapi

import (
	"net"
	"net/http"
	"strings"

	"aegis/cmd/identity"
	"aegis/cmd/internal/auth/session"
)

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		AvatarURL: a.AvatarURL,
		Role:      a.Role,
		Verified:  a.Verified,
		CreatedAt: a.CreatedAt,
	}
}

// requestDevice extracts the fingerprint tuple a session is bound to.
func requestDevice(r *http.Request, trustProxy bool) session.Device {
	return session.Device{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, trustProxy),
	}
}

// clientIP resolves the caller's address. Proxy headers are honored only
// when trustProxy is set; a spoofable fingerprint would let an attacker
// impersonate another device tuple.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			if net.ParseIP(xr) != nil {
				return xr
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
