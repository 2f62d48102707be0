package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"safecircle/internal/checkin/domain"
)

// ErrDuplicateID is returned by Create when the id is already stored.
var ErrDuplicateID = errors.New("check-in id already exists")

// MemoryRepository is an in-process Repository for development and tests. All reads return copies.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.CheckIn
	events EventIndex
}

// NewMemoryRepository returns an empty MemoryRepository. events may be nil; then every alerted
// check-in is reported by ListAlertedWithoutEvent.
func NewMemoryRepository(events EventIndex) *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.CheckIn), events: events}
}

func (r *MemoryRepository) Create(ctx context.Context, c *domain.CheckIn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return ErrDuplicateID
	}
	r.byID[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.CheckIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) CompareAndSetStatus(ctx context.Context, id string, expectedVersion int64, to domain.Status, at time.Time) (domain.Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return domain.Transition{}, domain.ErrNotFound
	}
	if cur.Status.Terminal() {
		return domain.Transition{CheckIn: cur.Clone(), Conflict: domain.ReasonForStatus(cur.Status)}, nil
	}
	if cur.Version != expectedVersion {
		return domain.Transition{CheckIn: cur.Clone(), Conflict: domain.ReasonStaleVersion}, nil
	}
	next := cur.ApplyTerminal(to, at)
	r.byID[id] = next
	return domain.Transition{CheckIn: next.Clone(), Applied: true}, nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]*domain.CheckIn, error) {
	r.mu.Lock()
	out := make([]*domain.CheckIn, 0)
	for _, c := range r.byID {
		if c.Status == domain.StatusActive {
			out = append(out, c.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(out[j].DeadlineAt) })
	return out, nil
}

func (r *MemoryRepository) ListAlertedWithoutEvent(ctx context.Context, limit int) ([]*domain.CheckIn, error) {
	r.mu.Lock()
	alerted := make([]*domain.CheckIn, 0)
	for _, c := range r.byID {
		if c.Status == domain.StatusAlerted {
			alerted = append(alerted, c.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(alerted, func(i, j int) bool { return alerted[i].AlertedAt.Before(*alerted[j].AlertedAt) })

	out := make([]*domain.CheckIn, 0, len(alerted))
	for _, c := range alerted {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.events != nil {
			has, err := r.events.HasEventFor(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if has {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}
