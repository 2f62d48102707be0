package repository

import (
	"context"
	"time"

	"safecircle/internal/checkin/domain"
)

// Repository defines persistence for check-ins.
type Repository interface {
	// Create stores a new check-in.
	Create(ctx context.Context, c *domain.CheckIn) error
	// GetByID returns the check-in or nil, nil when it does not exist.
	GetByID(ctx context.Context, id string) (*domain.CheckIn, error)
	// CompareAndSetStatus atomically moves an active check-in at expectedVersion to status to.
	// On a lost race it returns a Transition whose Conflict names the reason; domain.ErrNotFound
	// when the check-in does not exist.
	CompareAndSetStatus(ctx context.Context, id string, expectedVersion int64, to domain.Status, at time.Time) (domain.Transition, error)
	// ListActive returns every active check-in ordered by deadline.
	ListActive(ctx context.Context) ([]*domain.CheckIn, error)
	// ListAlertedWithoutEvent returns alerted check-ins that have no alert event recorded yet.
	ListAlertedWithoutEvent(ctx context.Context, limit int) ([]*domain.CheckIn, error)
}

// EventIndex reports whether an alert event exists for a check-in. The memory repository
// uses it to answer ListAlertedWithoutEvent.
type EventIndex interface {
	HasEventFor(ctx context.Context, checkInID string) (bool, error)
}
