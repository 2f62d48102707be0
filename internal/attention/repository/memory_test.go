package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecircle/internal/attention/domain"
)

var t0 = time.Date(2024, 8, 1, 20, 0, 0, 0, time.UTC)

func TestMemory_ReplaceActiveSupersedes(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	prev, err := repo.ReplaceActive(ctx, &domain.Request{ID: "r1", OwnerID: "sam", Tag: "anxious", RaisedAt: t0})
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = repo.ReplaceActive(ctx, &domain.Request{ID: "r2", OwnerID: "sam", Tag: "walk-home", RaisedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "r1", prev.ID)
	assert.False(t, prev.Active)
	assert.Equal(t, t0.Add(time.Minute), *prev.ClearedAt)

	active, err := repo.ActiveFor(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, "r2", active.ID)

	old, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, old.Active)
}

func TestMemory_Deactivate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.ReplaceActive(ctx, &domain.Request{ID: "r1", OwnerID: "sam", Tag: "anxious", RaisedAt: t0})
	require.NoError(t, err)

	req, changed, err := repo.Deactivate(ctx, "r1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, req.Active)

	_, changed, err = repo.Deactivate(ctx, "r1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	active, err := repo.ActiveFor(ctx, "sam")
	require.NoError(t, err)
	assert.Nil(t, active)

	_, _, err = repo.Deactivate(ctx, "missing", t0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
