package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"safecircle/internal/alert/domain"
)

// MemoryRepository is an in-process Repository. All reads return copies.
type MemoryRepository struct {
	mu          sync.Mutex
	byID        map[string]*domain.AlertEvent
	byCheckInID map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:        make(map[string]*domain.AlertEvent),
		byCheckInID: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, ev *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCheckInID[ev.CheckInID]; ok {
		return r.byID[id].Clone(), false, nil
	}
	stored := ev.Clone()
	if stored.ChannelsAttempted == nil {
		stored.ChannelsAttempted = []string{}
	}
	r.byID[ev.ID] = stored
	r.byCheckInID[ev.CheckInID] = ev.ID
	return stored.Clone(), true, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AlertEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByCheckInID(ctx context.Context, checkInID string) (*domain.AlertEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCheckInID[checkInID]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) HasEventFor(ctx context.Context, checkInID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byCheckInID[checkInID]
	return ok, nil
}

func (r *MemoryRepository) AddChannelsAttempted(ctx context.Context, id string, channels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	ev.ChannelsAttempted = domain.MergeChannels(ev.ChannelsAttempted, channels)
	return nil
}

func (r *MemoryRepository) MarkFanoutComplete(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if ev.FanoutCompletedAt == nil {
		t := at
		ev.FanoutCompletedAt = &t
	}
	return nil
}

func (r *MemoryRepository) ListIncompleteFanout(ctx context.Context, olderThan time.Time, limit int) ([]*domain.AlertEvent, error) {
	r.mu.Lock()
	out := make([]*domain.AlertEvent, 0)
	for _, ev := range r.byID {
		if ev.FanoutCompletedAt == nil && !ev.FiredAt.After(olderThan) {
			out = append(out, ev.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
