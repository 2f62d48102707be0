package repository

import (
	"context"
	"sync"
	"time"

	"safecircle/internal/response/domain"
)

// MemoryRepository is an in-process Repository. The dedup check and insert share one lock.
type MemoryRepository struct {
	mu      sync.Mutex
	byAlert map[string][]*domain.Response
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byAlert: make(map[string][]*domain.Response)}
}

func (m *MemoryRepository) Record(ctx context.Context, r *domain.Response, since time.Time) (*domain.Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byAlert[r.AlertID]
	for i := len(list) - 1; i >= 0; i-- {
		prev := list[i]
		if prev.ResponderID == r.ResponderID && prev.Kind == r.Kind && !prev.RecordedAt.Before(since) {
			return prev.Clone(), false, nil
		}
	}
	m.byAlert[r.AlertID] = append(list, r.Clone())
	return r.Clone(), true, nil
}

func (m *MemoryRepository) ListByAlert(ctx context.Context, alertID string) ([]*domain.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Response, 0, len(m.byAlert[alertID]))
	for _, r := range m.byAlert[alertID] {
		out = append(out, r.Clone())
	}
	return out, nil
}
