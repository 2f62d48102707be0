package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey struct{ name string }

var (
	userIDKey  = contextKey{"user_id"}
	tokenIDKey = contextKey{"token_id"}
)

// ginUserKey is the gin context key holding the authenticated user id.
const ginUserKey = "user_id"

// WithIdentity returns a context carrying the caller's user id and access-token id.
func WithIdentity(ctx context.Context, userID, tokenID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, tokenIDKey, tokenID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetTokenID returns the access-token jti from context and true if set.
func GetTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenIDKey).(string)
	return v, ok && v != ""
}

// CurrentUser returns the authenticated user id for c, or "" on public routes.
func CurrentUser(c *gin.Context) string {
	return c.GetString(ginUserKey)
}
