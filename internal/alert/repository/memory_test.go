package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecircle/internal/alert/domain"
)

var t0 = time.Date(2024, 8, 1, 18, 10, 0, 0, time.UTC)

func newEvent(id, checkInID string, firedAt time.Time) *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:           id,
		CheckInID:    checkInID,
		OwnerID:      "owner-1",
		Trigger:      domain.TriggerDeadline,
		FiredAt:      firedAt,
		RecipientIDs: []string{"a", "b"},
	}
}

func TestMemory_CreateIsIdempotentPerCheckIn(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, created, err := repo.Create(ctx, newEvent("e1", "c1", t0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{}, first.ChannelsAttempted)

	second, created, err := repo.Create(ctx, newEvent("e2", "c1", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "e1", second.ID)

	got, err := repo.GetByID(ctx, "e2")
	require.NoError(t, err)
	assert.Nil(t, got)

	has, err := repo.HasEventFor(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemory_ConcurrentCreateSingleEvent(t *testing.T) {
	repo := NewMemoryRepository()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := repo.Create(context.Background(), newEvent(fmt.Sprintf("e%d", i), "c1", t0))
			if err != nil || !ok {
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemory_ChannelsAndCompletion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, _, err := repo.Create(ctx, newEvent("e1", "c1", t0))
	require.NoError(t, err)

	require.NoError(t, repo.AddChannelsAttempted(ctx, "e1", []string{"push", "sms"}))
	require.NoError(t, repo.AddChannelsAttempted(ctx, "e1", []string{"sms", "email"}))
	require.NoError(t, repo.MarkFanoutComplete(ctx, "e1", t0.Add(time.Minute)))
	require.NoError(t, repo.MarkFanoutComplete(ctx, "e1", t0.Add(time.Hour)))

	got, err := repo.GetByCheckInID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"push", "sms", "email"}, got.ChannelsAttempted)
	assert.Equal(t, t0.Add(time.Minute), *got.FanoutCompletedAt)

	assert.ErrorIs(t, repo.AddChannelsAttempted(ctx, "missing", []string{"push"}), domain.ErrNotFound)
	assert.ErrorIs(t, repo.MarkFanoutComplete(ctx, "missing", t0), domain.ErrNotFound)
}

func TestMemory_ListIncompleteFanout(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for i, id := range []string{"e1", "e2", "e3"} {
		_, _, err := repo.Create(ctx, newEvent(id, "c-"+id, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkFanoutComplete(ctx, "e1", t0))

	got, err := repo.ListIncompleteFanout(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)

	got, err = repo.ListIncompleteFanout(ctx, t0.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}
