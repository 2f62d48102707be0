// Package scheduler fires check-in deadlines. Entries live in memory, spread over independent
// shards; the durable store is the source of truth and Recover rebuilds the heaps after a restart.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"safecircle/internal/checkin/domain"
	"safecircle/internal/clock"
	"safecircle/internal/telemetry"
)

// ErrRecoveryFailed is returned by Recover when active check-ins could not be loaded.
var ErrRecoveryFailed = errors.New("scheduler recovery failed")

// FireFunc escalates a due check-in. nil means the entry is finished; an error means a transient
// failure and the entry is retried with backoff.
type FireFunc func(ctx context.Context, checkInID string, version int64) error

// ActiveSource lists the check-ins that still need a deadline.
type ActiveSource interface {
	ListActive(ctx context.Context) ([]*domain.CheckIn, error)
}

// Config tunes the dispatch loops.
type Config struct {
	Shards               int
	PollInterval         time.Duration
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// RetryErrorAfter is the attempt from which failed firings are logged at error level.
	RetryErrorAfter int
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = time.Second
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = time.Minute
	}
	if c.RetryErrorAfter <= 0 {
		c.RetryErrorAfter = 5
	}
	return c
}

type shard struct {
	mu   sync.Mutex
	heap entryHeap
	byID map[string]*entry
	wake chan struct{}
}

func (sh *shard) notify() {
	select {
	case sh.wake <- struct{}{}:
	default:
	}
}

// Scheduler holds armed deadlines and fires them when due.
type Scheduler struct {
	shards  []*shard
	fire    FireFunc
	clock   clock.Clock
	cfg     Config
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New returns a Scheduler that calls fire for due entries.
func New(fire FireFunc, clk clock.Clock, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		shards: make([]*shard, cfg.Shards),
		fire:   fire,
		clock:  clk,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{byID: make(map[string]*entry), wake: make(chan struct{}, 1)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Arm schedules (or reschedules) the deadline of a check-in. Past deadlines fire immediately.
func (s *Scheduler) Arm(checkInID string, deadline time.Time, version int64) {
	sh := s.shardFor(checkInID)
	sh.mu.Lock()
	if old, ok := sh.byID[checkInID]; ok {
		heap.Remove(&sh.heap, old.index)
	}
	e := &entry{id: checkInID, deadline: deadline, version: version}
	heap.Push(&sh.heap, e)
	sh.byID[checkInID] = e
	sh.mu.Unlock()
	sh.notify()
}

// Cancel drops a pending deadline. It never blocks on a firing in progress.
func (s *Scheduler) Cancel(checkInID string) {
	sh := s.shardFor(checkInID)
	sh.mu.Lock()
	e, ok := sh.byID[checkInID]
	if ok {
		heap.Remove(&sh.heap, e.index)
		delete(sh.byID, checkInID)
	}
	sh.mu.Unlock()
	if ok {
		sh.notify()
	}
}

// Has reports whether a deadline is pending for the check-in.
func (s *Scheduler) Has(checkInID string) bool {
	sh := s.shardFor(checkInID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.byID[checkInID]
	return ok
}

// Pending returns the number of armed deadlines.
func (s *Scheduler) Pending() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.heap)
		sh.mu.Unlock()
	}
	return n
}

// Recover arms every active check-in in src. Startup must not proceed when it fails.
func (s *Scheduler) Recover(ctx context.Context, src ActiveSource) error {
	active, err := src.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}
	now := s.clock.Now()
	overdue := 0
	for _, c := range active {
		if !c.DeadlineAt.After(now) {
			overdue++
		}
		s.Arm(c.ID, c.DeadlineAt, c.Version)
	}
	s.logger.Info("scheduler recovered", zap.Int("active", len(active)), zap.Int("overdue", overdue))
	return nil
}

// Run drives every shard until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for _, sh := range s.shards {
		wg.Go(func() { s.loop(ctx, sh) })
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, sh *shard) {
	for {
		if ctx.Err() != nil {
			return
		}
		now := s.clock.Now()
		wait := s.cfg.PollInterval
		var due []*entry

		sh.mu.Lock()
		for len(sh.heap) > 0 && !sh.heap[0].deadline.After(now) {
			e := heap.Pop(&sh.heap).(*entry)
			delete(sh.byID, e.id)
			due = append(due, e)
		}
		if len(sh.heap) > 0 {
			if d := sh.heap[0].deadline.Sub(now); d < wait {
				wait = d
			}
		}
		sh.mu.Unlock()

		if len(due) > 0 {
			for _, e := range due {
				s.fireEntry(ctx, sh, e)
			}
			continue
		}

		t := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-sh.wake:
			t.Stop()
		case <-t.C():
		}
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, sh *shard, e *entry) {
	err := s.fire(ctx, e.id, e.version)
	if err == nil {
		return
	}
	if e.retry == nil {
		e.retry = backoff.NewExponentialBackOff()
		e.retry.InitialInterval = s.cfg.RetryInitialInterval
		e.retry.MaxInterval = s.cfg.RetryMaxInterval
	}
	delay := e.retry.NextBackOff()
	if delay < 0 || delay > s.cfg.RetryMaxInterval {
		delay = s.cfg.RetryMaxInterval
	}
	e.attempts++
	s.metrics.SchedulerRetry(ctx)
	level := zap.WarnLevel
	if e.attempts >= s.cfg.RetryErrorAfter {
		level = zap.ErrorLevel
	}
	s.logger.Log(level, "deadline escalation failed, retrying",
		zap.String("checkin_id", e.id),
		zap.Int("attempt", e.attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))

	sh.mu.Lock()
	defer sh.mu.Unlock()
	// A re-arm during the firing wins over the retry.
	if _, exists := sh.byID[e.id]; exists {
		return
	}
	e.deadline = s.clock.Now().Add(delay)
	heap.Push(&sh.heap, e)
	sh.byID[e.id] = e
}
