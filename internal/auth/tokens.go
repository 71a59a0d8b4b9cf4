// Package auth issues and validates the HS256 bearer tokens that identify
// users on the HTTP surface.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultIssuer = "bookwell"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: token secret is not configured")
)

// Claims represents JWT claims used across the service. Subject carries the
// numeric user id.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (int, error) {
	id, err := strconv.Atoi(c.Subject)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Tokens signs and verifies bearer tokens with a shared secret.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type TokensOption func(*Tokens)

func WithIssuer(issuer string) TokensOption {
	return func(t *Tokens) {
		if v := strings.TrimSpace(issuer); v != "" {
			t.issuer = v
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TokensOption {
	return func(t *Tokens) { t.now = now }
}

func NewTokens(secret string, opts ...TokensOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{secret: []byte(secret), issuer: DefaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Mint signs a token for userID valid for ttl.
func (t *Tokens) Mint(userID int, ttl time.Duration) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, errors.New("userID must be positive")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := t.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the token signature and required claims.
func (t *Tokens) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
