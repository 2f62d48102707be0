package repository

import (
	"context"
	"sync"

	"safecircle/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process, for the memory store driver and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.entries {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

// ListByUser returns the user's logs newest first.
func (m *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.AuditLog, 0)
	skipped := int32(0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		a := m.entries[i]
		if a.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.entries = append(m.entries, &c)
	return nil
}
