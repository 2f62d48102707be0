package repository

import (
	"context"
	"time"

	"safecircle/internal/response/domain"
)

// Repository persists responses. Entries are never updated or deleted.
type Repository interface {
	// Record stores r unless a response with the same alert, responder and kind was recorded at or
	// after since. In that case the existing record is returned with created false. A zero since
	// matches any earlier record.
	Record(ctx context.Context, r *domain.Response, since time.Time) (stored *domain.Response, created bool, err error)
	// ListByAlert returns the responses to an alert, oldest first.
	ListByAlert(ctx context.Context, alertID string) ([]*domain.Response, error)
}
