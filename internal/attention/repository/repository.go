package repository

import (
	"context"
	"errors"
	"time"

	"safecircle/internal/attention/domain"
)

// ErrActiveExists is returned when another active request for the owner was committed concurrently.
var ErrActiveExists = errors.New("owner already has an active attention request")

// Repository persists attention requests.
type Repository interface {
	// ReplaceActive deactivates the owner's active request, if any, and inserts req as the new
	// active one in a single atomic step. The superseded request is returned, or nil.
	ReplaceActive(ctx context.Context, req *domain.Request) (superseded *domain.Request, err error)
	// GetByID returns the request or nil, nil when missing.
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	// Deactivate clears an active request. changed is false when it was already inactive.
	Deactivate(ctx context.Context, id string, at time.Time) (req *domain.Request, changed bool, err error)
	// ActiveFor returns the owner's active request or nil, nil.
	ActiveFor(ctx context.Context, ownerID string) (*domain.Request, error)
}
