package repository

import (
	"context"
	"sync"
	"time"

	"safecircle/internal/attention/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Request
	active map[string]string // owner -> request id
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Request), active: make(map[string]string)}
}

func (m *MemoryRepository) ReplaceActive(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var superseded *domain.Request
	if id, ok := m.active[req.OwnerID]; ok {
		superseded = m.byID[id].Deactivate(req.RaisedAt)
		m.byID[id] = superseded
	}
	stored := req.Clone()
	stored.Active = true
	stored.ClearedAt = nil
	m.byID[stored.ID] = stored
	m.active[stored.OwnerID] = stored.ID
	return superseded.Clone(), nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Clone(), nil
}

func (m *MemoryRepository) Deactivate(ctx context.Context, id string, at time.Time) (*domain.Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if !cur.Active {
		return cur.Clone(), false, nil
	}
	next := cur.Deactivate(at)
	m.byID[id] = next
	delete(m.active, next.OwnerID)
	return next.Clone(), true, nil
}

func (m *MemoryRepository) ActiveFor(ctx context.Context, ownerID string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[ownerID]
	if !ok {
		return nil, nil
	}
	return m.byID[id].Clone(), nil
}
