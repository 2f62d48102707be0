package repository

import (
	"context"
	"time"

	"safecircle/internal/alert/domain"
)

// Repository defines persistence for alert events.
type Repository interface {
	// Create stores ev unless an event already exists for its check-in; then the stored event is
	// returned with created=false.
	Create(ctx context.Context, ev *domain.AlertEvent) (stored *domain.AlertEvent, created bool, err error)
	// GetByID returns the event or nil, nil when it does not exist.
	GetByID(ctx context.Context, id string) (*domain.AlertEvent, error)
	// GetByCheckInID returns the event raised for a check-in or nil, nil.
	GetByCheckInID(ctx context.Context, checkInID string) (*domain.AlertEvent, error)
	// HasEventFor reports whether an event exists for the check-in.
	HasEventFor(ctx context.Context, checkInID string) (bool, error)
	// AddChannelsAttempted merges channels into the event's attempted set.
	AddChannelsAttempted(ctx context.Context, id string, channels []string) error
	// MarkFanoutComplete stamps the fanout completion time once; later calls keep the first stamp.
	MarkFanoutComplete(ctx context.Context, id string, at time.Time) error
	// ListIncompleteFanout returns events fired at or before olderThan whose fanout never completed.
	ListIncompleteFanout(ctx context.Context, olderThan time.Time, limit int) ([]*domain.AlertEvent, error)
}
