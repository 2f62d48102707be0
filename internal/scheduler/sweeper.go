package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/checkin/domain"
	"safecircle/internal/clock"
)

// CheckInSource is the check-in store view used by the sweep.
type CheckInSource interface {
	ActiveSource
	ListAlertedWithoutEvent(ctx context.Context, limit int) ([]*domain.CheckIn, error)
}

// AlertSource lists alerts whose fanout never completed.
type AlertSource interface {
	ListIncompleteFanout(ctx context.Context, olderThan time.Time, limit int) ([]*alertdomain.AlertEvent, error)
}

// Repairer finishes escalations interrupted by a crash.
type Repairer interface {
	RepairOrphan(ctx context.Context, checkInID string) error
	ResumeFanout(ctx context.Context, alertID string) error
}

// SweepConfig tunes the reconciliation sweep.
type SweepConfig struct {
	// Schedule is a cron spec, e.g. "@every 1m".
	Schedule string
	Batch    int
	// FanoutStaleAfter is how long an alert may go without fanout completion before it is re-queued.
	FanoutStaleAfter time.Duration
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Rearmed  int
	Repaired int
	Resumed  int
}

// Sweeper periodically reconciles in-memory deadlines and crash leftovers with the store.
type Sweeper struct {
	sched    *Scheduler
	checkins CheckInSource
	alerts   AlertSource
	repairer Repairer
	clock    clock.Clock
	cfg      SweepConfig
	logger   *zap.Logger
}

// NewSweeper returns a Sweeper.
func NewSweeper(sched *Scheduler, checkins CheckInSource, alerts AlertSource, repairer Repairer, clk clock.Clock, cfg SweepConfig, logger *zap.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.FanoutStaleAfter <= 0 {
		cfg.FanoutStaleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{sched: sched, checkins: checkins, alerts: alerts, repairer: repairer, clock: clk, cfg: cfg, logger: logger}
}

// Sweep runs one reconciliation pass. Failures are logged and the pass continues.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats

	active, err := s.checkins.ListActive(ctx)
	if err != nil {
		s.logger.Error("sweep: list active check-ins", zap.Error(err))
	} else {
		for _, c := range active {
			if !s.sched.Has(c.ID) {
				s.sched.Arm(c.ID, c.DeadlineAt, c.Version)
				stats.Rearmed++
			}
		}
	}

	orphans, err := s.checkins.ListAlertedWithoutEvent(ctx, s.cfg.Batch)
	if err != nil {
		s.logger.Error("sweep: list orphaned alerts", zap.Error(err))
	}
	for _, c := range orphans {
		if err := s.repairer.RepairOrphan(ctx, c.ID); err != nil {
			s.logger.Warn("sweep: repair orphan", zap.String("checkin_id", c.ID), zap.Error(err))
			continue
		}
		stats.Repaired++
	}

	stale, err := s.alerts.ListIncompleteFanout(ctx, s.clock.Now().Add(-s.cfg.FanoutStaleAfter), s.cfg.Batch)
	if err != nil {
		s.logger.Error("sweep: list incomplete fanout", zap.Error(err))
	}
	for _, a := range stale {
		if err := s.repairer.ResumeFanout(ctx, a.ID); err != nil {
			s.logger.Warn("sweep: resume fanout", zap.String("alert_id", a.ID), zap.Error(err))
			continue
		}
		stats.Resumed++
	}

	if stats != (SweepStats{}) {
		s.logger.Info("sweep reconciled",
			zap.Int("rearmed", stats.Rearmed),
			zap.Int("repaired", stats.Repaired),
			zap.Int("resumed", stats.Resumed))
	}
	return stats
}

// Run sweeps on the configured cron schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
