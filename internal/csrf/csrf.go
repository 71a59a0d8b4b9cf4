// Package csrf implements double-submit CSRF protection. A per-client secret
// lives in an httpOnly cookie; the visible token is derived from it, signed
// with the server key and handed to the client through the XSRF-TOKEN cookie
// or an API response.
package csrf

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"bookwell.io/internal/audit"
	"bookwell.io/internal/obs"
)

const (
	SecretCookie = "csrfSecret"
	TokenCookie  = "XSRF-TOKEN"
	HeaderName   = "X-CSRF-Token"
	FormField    = "csrfToken"
)

var (
	ErrMissingSecret = errors.New("csrf: signing secret is required")
	ErrInvalidToken  = errors.New("csrf: invalid token")
)

// Rejection reasons reported to metrics.
const (
	reasonNoCookies    = "no_cookies"
	reasonNoSecret     = "no_secret"
	reasonBadSignature = "bad_signature"
	reasonNoToken      = "no_token"
	reasonMismatch     = "mismatch"
)

type Manager struct {
	key    []byte
	secure bool
	reject func(w http.ResponseWriter, r *http.Request, err error)
}

type Option func(*Manager)

// WithSecure marks cookies Secure. Enable it in production.
func WithSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithErrorHandler replaces the 403 response Middleware writes for rejected
// requests.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.reject = fn
		}
	}
}

// NewManager returns a Manager signing tokens with secret.
func NewManager(secret string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	m := &Manager{key: []byte(secret), reject: forbidden}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue returns a fresh signed token for the caller. The secret cookie is
// reused when present and minted otherwise.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request) (string, error) {
	secret, ok := m.secretFrom(r)
	if !ok {
		var err error
		secret, err = newSecret()
		if err != nil {
			return "", err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SecretCookie,
			Value:    secret,
			Path:     "/",
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return m.rotate(w, secret)
}

// Verify checks the token submitted with r against the caller's secret and
// rotates the visible token on success.
func (m *Manager) Verify(w http.ResponseWriter, r *http.Request) error {
	reason := m.check(r)
	if reason != "" {
		obs.CSRFRejected(reason)
		_ = audit.LogEvent(r.Context(), "csrf.rejected", map[string]any{
			"reason": reason,
			"method": r.Method,
			"path":   r.URL.Path,
		})
		return ErrInvalidToken
	}
	secret, _ := m.secretFrom(r)
	_, err := m.rotate(w, secret)
	return err
}

// Middleware rejects unsafe requests that fail Verify with 403.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if err := m.Verify(w, r); err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) check(r *http.Request) string {
	if r.Header.Get("Cookie") == "" {
		return reasonNoCookies
	}
	c, err := r.Cookie(SecretCookie)
	if err != nil || c.Value == "" {
		return reasonNoSecret
	}
	signed := submittedToken(r)
	if signed == "" {
		return reasonNoToken
	}
	if visible, err := r.Cookie(TokenCookie); err == nil && visible.Value != "" {
		if subtle.ConstantTimeCompare([]byte(visible.Value), []byte(signed)) != 1 {
			return reasonMismatch
		}
	}
	token, err := unsign(signed, m.key)
	if err != nil {
		return reasonBadSignature
	}
	if !verifyToken(c.Value, token) {
		return reasonMismatch
	}
	return ""
}

func (m *Manager) secretFrom(r *http.Request) (string, bool) {
	c, err := r.Cookie(SecretCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (m *Manager) rotate(w http.ResponseWriter, secret string) (string, error) {
	token, err := createToken(secret)
	if err != nil {
		return "", err
	}
	token = sign(token, m.key)
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func forbidden(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"invalid csrf token"}`))
}

func submittedToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return strings.TrimSpace(r.PostFormValue(FormField))
	}
	return ""
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
