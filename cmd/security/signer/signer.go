package signer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Public, stable errors for callers.
var (
	// ErrTokenExpired means the token was well-formed and correctly signed
	// but past its expiry. Callers distinguish it from ErrTokenInvalid so a
	// client holding a stale access token gets exactly one silent refresh
	// retry instead of a hard logout.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers everything else: malformed, wrong signature,
	// wrong signing method, wrong token kind.
	ErrTokenInvalid = errors.New("token invalid")
)

// Identity is the claim set carried by both tokens of a pair.
type Identity struct {
	AccountID string
	Email     string
	Role      string
}

type accountClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Signer issues and verifies HS256 token pairs. Access and refresh tokens
// are signed with independent secrets so one leaked key never forges the
// other kind.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// New returns a Signer. Both secrets are required and must differ.
func New(accessSecret, refreshSecret []byte, accessTTL, refreshTTL time.Duration) (*Signer, error) {
	if len(accessSecret) < 32 || len(refreshSecret) < 32 {
		return nil, fmt.Errorf("signing secrets must be at least 32 bytes")
	}
	if string(accessSecret) == string(refreshSecret) {
		return nil, fmt.Errorf("access and refresh secrets must be distinct")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}
	return &Signer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *Signer) AccessTTL() time.Duration { return s.accessTTL }

// SignAccess issues a short-lived access token for id.
func (s *Signer) SignAccess(id Identity) (string, time.Time, error) {
	return sign(id, s.accessSecret, s.accessTTL)
}

// SignRefresh issues a refresh token for id with the given lifetime.
// The session layer picks the TTL (standard or remembered); ttl <= 0
// falls back to the configured default.
func (s *Signer) SignRefresh(id Identity, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	return sign(id, s.refreshSecret, ttl)
}

// VerifyAccess validates an access token and returns its identity.
func (s *Signer) VerifyAccess(raw string) (Identity, error) {
	return verify(raw, s.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its identity.
func (s *Signer) VerifyRefresh(raw string) (Identity, error) {
	return verify(raw, s.refreshSecret)
}

func sign(id Identity, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	jti, err := mintJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := accountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: id.Email,
		Role:  id.Role,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, exp, nil
}

// mintJTI returns a random token ID. Timestamps in the claim set have
// second granularity, so without the jti two tokens minted for the same
// identity within one second would be byte-identical. The session layer
// depends on every mint producing a distinct refresh digest.
func mintJTI() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func verify(raw string, secret []byte) (Identity, error) {
	tok, err := jwt.ParseWithClaims(raw, &accountClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*accountClaims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
	}, nil
}
