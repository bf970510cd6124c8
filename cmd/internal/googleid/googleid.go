// Package googleid verifies Google ID tokens for federated login.
package googleid

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrInvalidIDToken is returned for any unusable ID token: bad signature,
// wrong audience, expired, or missing claims.
var ErrInvalidIDToken = errors.New("invalid google id token")

// Profile is the subset of Google's claims Aegis cares about.
type Profile struct {
	Email   string
	Name    string
	Picture string
}

// Verifier validates ID tokens against a single OAuth client ID.
type Verifier struct {
	clientID string
}

// New returns a Verifier for the given client ID.
func New(clientID string) (*Verifier, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("googleid: empty client id")
	}
	return &Verifier{clientID: clientID}, nil
}

// Verify validates raw and extracts the profile.
func (v *Verifier) Verify(ctx context.Context, raw string) (Profile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Profile{}, ErrInvalidIDToken
	}

	payload, err := idtoken.Validate(ctx, raw, v.clientID)
	if err != nil {
		return Profile{}, ErrInvalidIDToken
	}

	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)
	if email == "" {
		return Profile{}, ErrInvalidIDToken
	}
	if name == "" {
		name = email
	}

	return Profile{Email: email, Name: name, Picture: picture}, nil
}
