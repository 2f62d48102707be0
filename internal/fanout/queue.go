package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a job could not be queued within the enqueue timeout. The
	// reconciliation sweep picks up the message later.
	ErrQueueFull = errors.New("fanout queue full")
)

// Runner dispatches one message synchronously.
type Runner interface {
	Dispatch(ctx context.Context, msg Message) Report
}

// QueueConfig sizes the queue.
type QueueConfig struct {
	Workers        int
	Size           int
	EnqueueTimeout time.Duration
}

// Queue runs dispatches on a fixed set of background workers.
type Queue struct {
	runner  Runner
	jobs    chan Job
	workers int
	timeout time.Duration
	logger  *zap.Logger
}

// NewQueue returns a queue feeding runner. Jobs may be enqueued before Run starts.
func NewQueue(runner Runner, cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		runner:  runner,
		jobs:    make(chan Job, cfg.Size),
		workers: cfg.Workers,
		timeout: cfg.EnqueueTimeout,
		logger:  logger,
	}
}

// Enqueue hands job to the workers. It blocks for at most the enqueue timeout.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
	}
	t := time.NewTimer(q.timeout)
	defer t.Stop()
	select {
	case q.jobs <- job:
		return nil
	case <-t.C:
		q.logger.Warn("fanout queue full", zap.String("event_id", job.Message.EventID))
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int { return len(q.jobs) }

// Run starts the workers and blocks until ctx is done and they have returned. Jobs still queued
// at shutdown are left to the reconciliation sweep.
func (q *Queue) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Go(func() { q.work(ctx) })
	}
	wg.Wait()
	if n := len(q.jobs); n > 0 {
		q.logger.Info("fanout queue stopped with pending jobs", zap.Int("pending", n))
	}
	return nil
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			report := q.runner.Dispatch(ctx, job.Message)
			if job.Done != nil {
				job.Done(ctx, report)
			}
		}
	}
}
