package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bookwell.io/internal/booking"
	"bookwell.io/internal/calendar"
	"bookwell.io/internal/credential"
	"bookwell.io/internal/csrf"
	"bookwell.io/internal/delegation"
	"bookwell.io/internal/obs"
	"bookwell.io/internal/slots"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors to HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, slots.ErrInvalidInput), errors.Is(err, booking.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, trimPrefix(err))
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, csrf.ErrInvalidToken):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, slots.ErrNotFound), errors.Is(err, booking.ErrNotFound),
		errors.Is(err, delegation.ErrNotFound), errors.Is(err, credential.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, delegation.ErrMissingServiceAccountKey), errors.Is(err, delegation.ErrNoCalendarProvider):
		writeError(w, r, http.StatusUnprocessableEntity, trimPrefix(err))
	case errors.Is(err, calendar.ErrProbeUnsupported):
		writeError(w, r, http.StatusNotImplemented, trimPrefix(err))
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// trimPrefix drops the "<package>: " prefix of sentinel messages.
func trimPrefix(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && !strings.Contains(msg[:i], " ") {
		return msg[i+2:]
	}
	return msg
}
