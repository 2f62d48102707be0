package idempotency

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderName is the request header carrying the client-chosen key.
const HeaderName = "Idempotency-Key"

// Config controls the middleware.
type Config struct {
	Store Store
	TTL   time.Duration
	// Scope returns the namespace for a request (typically the authenticated user id) so two
	// users cannot collide on the same key. Empty scope uses the client IP.
	Scope  func(c *gin.Context) string
	Logger *zap.Logger
}

// Middleware rejects a POST whose (scope, route, key) was already seen within TTL with
// 409 {"error":"duplicate request"}. Requests without the header pass through. A request that
// ends in a 5xx releases its key. Store errors fail open.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(time.Minute)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderName))
		if key == "" {
			c.Next()
			return
		}
		scope := ""
		if cfg.Scope != nil {
			scope = cfg.Scope(c)
		}
		if scope == "" {
			scope = c.ClientIP()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fullKey := scope + "|" + route + "|" + key

		ok, err := cfg.Store.Reserve(c.Request.Context(), fullKey, cfg.TTL)
		if err != nil {
			cfg.Logger.Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			if err := cfg.Store.Release(context.WithoutCancel(c.Request.Context()), fullKey); err != nil {
				cfg.Logger.Warn("idempotency release failed", zap.Error(err))
			}
		}
	}
}
