package authapi

import (
	"net/http"
	"strings"
	"time"

	"aegis/cmd/internal/auth/session"
)

// Cookie names. Both cookies are set and cleared together so the client
// never holds half a pair.
const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

func (h *Handler) setAuthCookies(w http.ResponseWriter, issued session.Issued) {
	// Both cookies live until the refresh token dies. A stale access token
	// is still presented and answered with token_expired, which is what
	// drives the client's silent refresh.
	h.setCookie(w, accessCookieName, issued.AccessToken, issued.RefreshExp)
	h.setCookie(w, refreshCookieName, issued.RefreshToken, issued.RefreshExp)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.expireCookie(w, accessCookieName)
	h.expireCookie(w, refreshCookieName)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cookieSameSite(),
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cookieSameSite(),
	})
}

func (h *Handler) cookieSameSite() http.SameSite {
	if h.cfg.CookieCrossSite {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func cookieValue(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}
