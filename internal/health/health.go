// Package health reports readiness from the database, the channel policy and scheduler recovery,
// and mirrors it into the standard gRPC health service.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA channel planner.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// Report is the result of one readiness check. Checks maps a dependency to "ok" or its error.
type Report struct {
	Serving bool              `json:"serving"`
	Checks  map[string]string `json:"checks"`
}

// Checker aggregates readiness. The zero value is not ready until MarkReady is called.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
	ready  atomic.Bool
}

// NewChecker returns a Checker. pinger and policy may be nil, in which case they are skipped.
func NewChecker(pinger Pinger, policy PolicyChecker) *Checker {
	return &Checker{pinger: pinger, policy: policy}
}

// MarkReady records that startup recovery finished. Until then the service reports NOT_SERVING.
func (c *Checker) MarkReady() { c.ready.Store(true) }

// Check runs every dependency check.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{Serving: true, Checks: map[string]string{}}
	record := func(name string, err error) {
		if err != nil {
			r.Serving = false
			r.Checks[name] = err.Error()
			return
		}
		r.Checks[name] = "ok"
	}

	if c.ready.Load() {
		record("recovery", nil)
	} else {
		r.Serving = false
		r.Checks["recovery"] = "pending"
	}
	if c.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		record("database", c.pinger.PingContext(pctx))
		cancel()
	}
	if c.policy != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		record("policy", c.policy.HealthCheck(pctx))
		cancel()
	}
	return r
}

// Watch re-evaluates readiness every interval and publishes it on hs for the overall service ("")
// until ctx is done.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, interval time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	publish := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		r := c.Check(ctx)
		if r.Serving {
			st = healthpb.HealthCheckResponse_SERVING
		}
		if st != last {
			logger.Info("health status changed", zap.String("status", st.String()), zap.Any("checks", r.Checks))
			last = st
		}
		hs.SetServingStatus("", st)
	}
	publish()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return nil
		case <-t.C:
			publish()
		}
	}
}
