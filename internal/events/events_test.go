package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ calls atomic.Int32 }

func (f *failing) Publish(context.Context, Event) error {
	f.calls.Add(1)
	return errors.New("broker down")
}

func TestNew_AssignsIDAndUTC(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	ev := New(CheckInCreated, "c1", "u1", time.Date(2024, 1, 1, 10, 0, 0, 0, loc), nil)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())
	assert.Equal(t, CheckInCreated, ev.Type)
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	bad := &failing{}
	err := Multi{rec, nil, bad}.Publish(context.Background(), New(AlertRaised, "a1", "u1", time.Now(), nil))
	require.Error(t, err)
	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, int32(1), bad.calls.Load())
}

func TestRecorder_OfType(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	_ = rec.Publish(ctx, New(AlertRaised, "a1", "", time.Now(), nil))
	_ = rec.Publish(ctx, New(CheckInCompleted, "c1", "", time.Now(), nil))
	_ = rec.Publish(ctx, New(AlertRaised, "a2", "", time.Now(), nil))
	assert.Len(t, rec.OfType(AlertRaised), 2)
	assert.Len(t, rec.OfType(ResponseRecorded), 0)
}

func TestAsync_PublishesInBackgroundAndDrains(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(context.Background(), New(CheckInCreated, "c", "", time.Now(), nil)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Drain(ctx))
	assert.Len(t, rec.Events(), 10)
}

func TestAsync_ErrorsAreSwallowed(t *testing.T) {
	bad := &failing{}
	a := NewAsync(bad, nil)
	require.NoError(t, a.Publish(context.Background(), New(CheckInCreated, "c", "", time.Now(), nil)))
	require.NoError(t, a.Drain(context.Background()))
	assert.Equal(t, int32(1), bad.calls.Load())
}

func TestAsync_NilNext(t *testing.T) {
	a := NewAsync(nil, nil)
	require.NoError(t, a.Publish(context.Background(), Event{}))
	require.NoError(t, a.Drain(context.Background()))
}
