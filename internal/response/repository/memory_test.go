package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecircle/internal/response/domain"
)

var t0 = time.Date(2024, 8, 1, 18, 10, 0, 0, time.UTC)

func newResponse(id string, kind domain.Kind, at time.Time) *domain.Response {
	return &domain.Response{ID: id, AlertID: "alert-1", ResponderID: "A", Kind: kind, RecordedAt: at, Latency: at.Sub(t0)}
}

func TestMemory_RecordDeduplicatesWithinWindow(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, created, err := repo.Record(ctx, newResponse("r1", domain.KindAcknowledged, t0), time.Time{})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.Record(ctx, newResponse("r2", domain.KindAcknowledged, t0.Add(time.Minute)), t0.Add(-9*time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, created, err = repo.Record(ctx, newResponse("r3", domain.KindEnRoute, t0.Add(time.Minute)), time.Time{})
	require.NoError(t, err)
	assert.True(t, created, "a different kind is a new entry")

	// Outside the window the same kind is recorded again.
	_, created, err = repo.Record(ctx, newResponse("r4", domain.KindAcknowledged, t0.Add(20*time.Minute)), t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, created)

	list, err := repo.ListByAlert(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"r1", "r3", "r4"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestMemory_ConcurrentDuplicatesStoreOne(t *testing.T) {
	repo := NewMemoryRepository()
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := repo.Record(context.Background(), newResponse(string(rune('a'+i)), domain.KindAcknowledged, t0), time.Time{})
			require.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
	list, _ := repo.ListByAlert(context.Background(), "alert-1")
	assert.Len(t, list, 1)
}
