package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process ledger.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[Key]*Delivery
}

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[Key]*Delivery)}
}

func (r *MemoryRepository) Claim(ctx context.Context, key Key, now time.Time, lease time.Duration) (ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		r.rows[key] = &Delivery{Key: key, Status: StatusPending, ClaimedAt: now, UpdatedAt: now}
		return ClaimAcquired, nil
	}
	switch row.Status {
	case StatusDelivered:
		return ClaimAlreadyDelivered, nil
	case StatusPending:
		if !row.ClaimedAt.Before(now.Add(-lease)) {
			return ClaimInFlight, nil
		}
	}
	row.Status = StatusPending
	row.ClaimedAt = now
	row.UpdatedAt = now
	return ClaimAcquired, nil
}

func (r *MemoryRepository) Complete(ctx context.Context, key Key, delivered bool, attempts int, lastError string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		row = &Delivery{Key: key, ClaimedAt: at}
		r.rows[key] = row
	}
	row.Attempts += attempts
	row.LastError = lastError
	row.UpdatedAt = at
	if delivered {
		row.Status = StatusDelivered
		t := at
		row.DeliveredAt = &t
	} else {
		row.Status = StatusFailed
	}
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, key Key) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	return clone(row), nil
}

func (r *MemoryRepository) ListByEvent(ctx context.Context, eventID string) ([]*Delivery, error) {
	r.mu.Lock()
	out := make([]*Delivery, 0)
	for k, row := range r.rows {
		if k.EventID == eventID {
			out = append(out, clone(row))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecipientID != out[j].RecipientID {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

func clone(d *Delivery) *Delivery {
	out := *d
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		out.DeliveredAt = &t
	}
	return &out
}
