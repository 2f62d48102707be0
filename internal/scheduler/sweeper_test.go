package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/checkin/domain"
	"safecircle/internal/clock"
)

type fakeCheckIns struct {
	active    []*domain.CheckIn
	orphans   []*domain.CheckIn
	activeErr error
}

func (f *fakeCheckIns) ListActive(context.Context) ([]*domain.CheckIn, error) {
	return f.active, f.activeErr
}

func (f *fakeCheckIns) ListAlertedWithoutEvent(_ context.Context, limit int) ([]*domain.CheckIn, error) {
	if len(f.orphans) > limit {
		return f.orphans[:limit], nil
	}
	return f.orphans, nil
}

type fakeAlerts struct {
	stale     []*alertdomain.AlertEvent
	olderThan time.Time
}

func (f *fakeAlerts) ListIncompleteFanout(_ context.Context, olderThan time.Time, _ int) ([]*alertdomain.AlertEvent, error) {
	f.olderThan = olderThan
	return f.stale, nil
}

type fakeRepairer struct {
	mu        sync.Mutex
	repaired  []string
	resumed   []string
	repairErr error
}

func (f *fakeRepairer) RepairOrphan(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repairErr != nil {
		return f.repairErr
	}
	f.repaired = append(f.repaired, id)
	return nil
}

func (f *fakeRepairer) ResumeFanout(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func noFire(context.Context, string, int64) error { return nil }

func TestSweep_ReconcilesStore(t *testing.T) {
	clk := clock.NewFake(start)
	sched := New(noFire, clk, Config{})
	sched.Arm("known", start.Add(time.Hour), 1)

	checkins := &fakeCheckIns{
		active: []*domain.CheckIn{
			{ID: "known", DeadlineAt: start.Add(time.Hour), Version: 1},
			{ID: "lost", DeadlineAt: start.Add(2 * time.Hour), Version: 1},
		},
		orphans: []*domain.CheckIn{{ID: "orphan", Status: domain.StatusAlerted}},
	}
	alerts := &fakeAlerts{stale: []*alertdomain.AlertEvent{{ID: "alert-1"}}}
	rep := &fakeRepairer{}

	sw := NewSweeper(sched, checkins, alerts, rep, clk, SweepConfig{FanoutStaleAfter: 5 * time.Minute}, nil)
	stats := sw.Sweep(context.Background())

	assert.Equal(t, SweepStats{Rearmed: 1, Repaired: 1, Resumed: 1}, stats)
	assert.True(t, sched.Has("lost"))
	assert.Equal(t, 2, sched.Pending())
	assert.Equal(t, []string{"orphan"}, rep.repaired)
	assert.Equal(t, []string{"alert-1"}, rep.resumed)
	assert.Equal(t, start.Add(-5*time.Minute), alerts.olderThan)

	// A second pass finds nothing new to arm.
	stats = sw.Sweep(context.Background())
	assert.Equal(t, 0, stats.Rearmed)
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	clk := clock.NewFake(start)
	sched := New(noFire, clk, Config{})
	checkins := &fakeCheckIns{
		activeErr: errors.New("db down"),
		orphans:   []*domain.CheckIn{{ID: "o1"}, {ID: "o2"}},
	}
	alerts := &fakeAlerts{stale: []*alertdomain.AlertEvent{{ID: "a1"}}}
	rep := &fakeRepairer{repairErr: errors.New("still down")}

	stats := NewSweeper(sched, checkins, alerts, rep, clk, SweepConfig{Batch: 1}, zap.NewNop()).Sweep(context.Background())
	assert.Equal(t, SweepStats{Resumed: 1}, stats)
	assert.Equal(t, 0, sched.Pending())
}

func TestSweeper_RunRejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(New(noFire, clock.Real{}, Config{}), &fakeCheckIns{}, &fakeAlerts{}, &fakeRepairer{}, clock.Real{}, SweepConfig{Schedule: "not a schedule"}, nil)
	require.Error(t, sw.Run(context.Background()))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sw := NewSweeper(New(noFire, clock.Real{}, Config{}), &fakeCheckIns{}, &fakeAlerts{}, &fakeRepairer{}, clock.Real{}, SweepConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
