// Package sessionview renders session rows for humans: device labels from
// the user-agent string, coarse location from the IP. Display only; the
// lifecycle engine never reads any of this back.
package sessionview

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/ipinfo/go/v2/ipinfo"
	"github.com/mileusna/useragent"

	"aegis/cmd/internal/auth/session"
)

// View is a session decorated for presentation.
type View struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	IP         string    `json:"ip"`
	Location   string    `json:"location"`
	Current    bool      `json:"current"`
	LastActive time.Time `json:"lastActive"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Presenter decorates sessions. A nil ipinfo client degrades location to
// "Unknown Location" instead of failing the request.
type Presenter struct {
	geo *ipinfo.Client
}

// New returns a Presenter. token may be empty, disabling geolocation.
func New(token string) *Presenter {
	var geo *ipinfo.Client
	if strings.TrimSpace(token) != "" {
		geo = ipinfo.NewClient(nil, nil, token)
	}
	return &Presenter{geo: geo}
}

// Render decorates rows, flagging the one holding currentRefreshHash.
func (p *Presenter) Render(ctx context.Context, rows []session.Session, currentRefreshHash string) []View {
	out := make([]View, 0, len(rows))
	for _, r := range rows {
		out = append(out, View{
			ID:         r.ID,
			Device:     deviceLabel(r.UserAgent),
			Browser:    browserLabel(r.UserAgent),
			OS:         osLabel(r.UserAgent),
			IP:         r.IP,
			Location:   p.location(r.IP),
			Current:    currentRefreshHash != "" && r.RefreshTokenHash == currentRefreshHash,
			LastActive: r.UpdatedAt,
			CreatedAt:  r.CreatedAt,
			ExpiresAt:  r.ExpiresAt,
		})
	}
	return out
}

func deviceLabel(rawUA string) string {
	ua := useragent.Parse(rawUA)
	switch {
	case ua.Mobile:
		return "Mobile"
	case ua.Tablet:
		return "Tablet"
	case ua.Desktop:
		return "Desktop"
	default:
		return "Unknown Device"
	}
}

func browserLabel(rawUA string) string {
	ua := useragent.Parse(rawUA)
	if ua.Name == "" {
		return "Unknown Browser"
	}
	return ua.Name
}

func osLabel(rawUA string) string {
	ua := useragent.Parse(rawUA)
	if ua.OS == "" {
		return "Unknown OS"
	}
	return ua.OS
}

func (p *Presenter) location(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "Unknown Location"
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return "Localhost"
	}
	if p.geo == nil {
		return "Unknown Location"
	}

	info, err := p.geo.GetIPInfo(parsed)
	if err != nil || info == nil {
		return "Unknown Location"
	}
	switch {
	case info.City != "" && info.Country != "":
		return info.City + ", " + info.Country
	case info.Country != "":
		return info.Country
	default:
		return "Unknown Location"
	}
}
