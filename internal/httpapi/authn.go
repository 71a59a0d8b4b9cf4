package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"bookwell.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Parse(token string) (*auth.Claims, error)
}

// requireUser authenticates the bearer token and stores the user id in the
// request context.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), userID)))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bookwell"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
