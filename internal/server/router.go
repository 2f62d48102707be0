// Package server assembles the HTTP API and the gRPC health endpoint.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"safecircle/internal/audit"
	"safecircle/internal/health"
	"safecircle/internal/idempotency"
	"safecircle/internal/server/handler"
	"safecircle/internal/server/middleware"
)

// RouterConfig holds everything the HTTP router needs. Limiter, Idempotency.Store, Audit and
// Health are optional.
type RouterConfig struct {
	API         *handler.Handler
	Tokens      middleware.TokenValidator
	Limiter     *limiter.Limiter
	Idempotency idempotency.Config
	Audit       audit.AuditLogger
	Health      *health.Checker
	Registry    *prometheus.Registry
	Logger      *zap.Logger
}

// NewRouter returns the gin engine. /healthz and /metrics are public; everything under /v1
// requires a Bearer access token.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := middleware.NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger), metrics.Handler())

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Health == nil {
			c.JSON(http.StatusOK, health.Report{Serving: true, Checks: map[string]string{}})
			return
		}
		report := cfg.Health.Check(c.Request.Context())
		code := http.StatusOK
		if !report.Serving {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	v1 := r.Group("/v1", middleware.Auth(cfg.Tokens))
	if cfg.Limiter != nil {
		v1.Use(middleware.RateLimit(cfg.Limiter, metrics, logger))
	}
	if cfg.Audit != nil {
		v1.Use(middleware.Audit(cfg.Audit))
	}
	idem := cfg.Idempotency
	if idem.Logger == nil {
		idem.Logger = logger
	}
	idem.Scope = middleware.CurrentUser
	v1.Use(idempotency.Middleware(idem))
	cfg.API.Register(v1)
	return r
}

// NewHTTPServer wraps h with conservative timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
