package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertrepo "safecircle/internal/alert/repository"
	alertservice "safecircle/internal/alert/service"
	"safecircle/internal/checkin/domain"
	checkinrepo "safecircle/internal/checkin/repository"
	checkinservice "safecircle/internal/checkin/service"
	"safecircle/internal/clock"
	"safecircle/internal/events"
)

// instance is one process: its own scheduler and services over the shared stores.
type instance struct {
	sched    *Scheduler
	checkins *checkinservice.Service
	cancel   context.CancelFunc
	done     chan struct{}
}

func startInstance(clk clock.Clock, store *checkinrepo.MemoryRepository, alerts *alertrepo.MemoryRepository, rec *events.Recorder) *instance {
	inst := &instance{done: make(chan struct{})}
	var escalator *alertservice.Escalator
	inst.sched = New(func(ctx context.Context, id string, version int64) error {
		return escalator.FireDeadline(ctx, id, version)
	}, clk, Config{Shards: 2})
	inst.checkins = checkinservice.New(store, clk, checkinservice.WithDeadlines(inst.sched), checkinservice.WithEvents(rec))
	escalator = alertservice.New(inst.checkins, alerts, nil, clk, alertservice.WithDeadlines(inst.sched), alertservice.WithEvents(rec))

	ctx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	go func() {
		_ = inst.sched.Run(ctx)
		close(inst.done)
	}()
	return inst
}

func (i *instance) stop() {
	i.cancel()
	<-i.done
}

func TestScenario_RestartMidDeadline(t *testing.T) {
	clk := clock.NewFake(start)
	alerts := alertrepo.NewMemoryRepository()
	store := checkinrepo.NewMemoryRepository(alerts)
	rec := &events.Recorder{}
	ctx := context.Background()

	first := startInstance(clk, store, alerts, rec)
	c, err := first.checkins.Create(ctx, checkinservice.CreateInput{OwnerID: "sam", Duration: 10 * time.Minute, ContactIDs: []string{"A", "B"}})
	require.NoError(t, err)
	clk.Advance(4 * time.Minute)
	first.stop()

	second := startInstance(clk, store, alerts, rec)
	defer second.stop()
	require.NoError(t, second.sched.Recover(ctx, store))
	assert.True(t, second.sched.Has(c.ID))

	clk.Advance(5 * time.Minute)
	assert.Never(t, func() bool { return len(rec.OfType(events.AlertRaised)) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(rec.OfType(events.AlertRaised)) == 1 }, time.Second, time.Millisecond)

	stored, err := store.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAlerted, stored.Status)
	alert, err := alerts.GetByCheckInID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, alert.RecipientIDs)
}

func TestScenario_TwoInstancesRaceOnOneDeadline(t *testing.T) {
	clk := clock.NewFake(start)
	alerts := alertrepo.NewMemoryRepository()
	store := checkinrepo.NewMemoryRepository(alerts)
	rec := &events.Recorder{}
	ctx := context.Background()

	a := startInstance(clk, store, alerts, rec)
	defer a.stop()
	b := startInstance(clk, store, alerts, rec)
	defer b.stop()

	var ids []string
	for i := 0; i < 20; i++ {
		c, err := a.checkins.Create(ctx, checkinservice.CreateInput{OwnerID: "sam", Duration: time.Minute, ContactIDs: []string{"A"}})
		require.NoError(t, err)
		b.sched.Arm(c.ID, c.DeadlineAt, c.Version)
		ids = append(ids, c.ID)
	}

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return a.sched.Pending() == 0 && b.sched.Pending() == 0 && len(rec.OfType(events.AlertRaised)) >= len(ids)
	}, 2*time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(rec.OfType(events.AlertRaised)) > len(ids) }, 50*time.Millisecond, 5*time.Millisecond)
	for _, id := range ids {
		has, err := alerts.HasEventFor(ctx, id)
		require.NoError(t, err)
		assert.True(t, has)
	}
}
