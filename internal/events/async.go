package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// publishTimeout bounds a single background publish.
const publishTimeout = 5 * time.Second

// Async publishes on a background goroutine so request paths never wait on Kafka or the
// log exporter. Failures are logged.
type Async struct {
	next   Publisher
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewAsync wraps next. logger may be nil.
func NewAsync(next Publisher, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{next: next, logger: logger}
}

// Publish returns immediately. The background publish uses its own timeout so request
// cancellation does not abort it.
func (a *Async) Publish(_ context.Context, ev Event) error {
	if a.next == nil {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.next.Publish(ctx, ev); err != nil {
			a.logger.Warn("event publish failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("aggregate_id", ev.AggregateID),
				zap.Error(err))
		}
	}()
	return nil
}

// Drain waits for in-flight publishes or until ctx is done.
func (a *Async) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
