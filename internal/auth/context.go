package auth

import "context"

type userContextKey struct{}

// ContextWithUser stores the authenticated user id in the context.
func ContextWithUser(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user id from context.
func UserIDFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(userContextKey{}).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
