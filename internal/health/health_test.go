package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestCheck_NotReadyBeforeRecovery(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Check(context.Background())
	if r.Serving {
		t.Fatal("must not serve before MarkReady")
	}
	if r.Checks["recovery"] != "pending" {
		t.Errorf("recovery = %q, want pending", r.Checks["recovery"])
	}
	c.MarkReady()
	if !c.Check(context.Background()).Serving {
		t.Error("should serve after MarkReady with no dependencies")
	}
}

func TestCheck_PingerFailure(t *testing.T) {
	c := NewChecker(&mockPinger{pingErr: errors.New("connection refused")}, nil)
	c.MarkReady()
	r := c.Check(context.Background())
	if r.Serving {
		t.Error("status should be not serving")
	}
	if r.Checks["database"] != "connection refused" {
		t.Errorf("database = %q", r.Checks["database"])
	}
}

func TestCheck_PolicyCheckerFailure(t *testing.T) {
	c := NewChecker(&mockPinger{}, &mockPolicyChecker{healthErr: errors.New("rego compile failed")})
	c.MarkReady()
	r := c.Check(context.Background())
	if r.Serving {
		t.Error("status should be not serving")
	}
	if r.Checks["database"] != "ok" || r.Checks["policy"] != "rego compile failed" {
		t.Errorf("checks = %v", r.Checks)
	}
}

func TestCheck_AllHealthy(t *testing.T) {
	c := NewChecker(&mockPinger{}, &mockPolicyChecker{})
	c.MarkReady()
	if r := c.Check(context.Background()); !r.Serving {
		t.Errorf("checks = %v, want serving", r.Checks)
	}
}

func TestWatch_PublishesToGRPCHealth(t *testing.T) {
	hs := health.NewServer()
	c := NewChecker(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Watch(ctx, hs, 10*time.Millisecond, nil)
		close(done)
	}()

	waitStatus(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)
	c.MarkReady()
	waitStatus(t, hs, healthpb.HealthCheckResponse_SERVING)

	cancel()
	<-done
}

func waitStatus(t *testing.T, hs *health.Server, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("health status never became %v", want)
}
