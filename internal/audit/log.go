// Package audit records security-relevant events as structured log entries.
package audit

import (
	"context"
	"errors"
	"strings"

	"bookwell.io/internal/auth"
	"bookwell.io/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry = entry.Int("user_id", userID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	entry.Interface("fields", fields).Send()
	return nil
}
