// Package service implements the check-in lifecycle: creation, owner confirmation and the
// alerted transition, all decided by the state machine and committed by compare-and-set.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"safecircle/internal/alert/statemachine"
	"safecircle/internal/checkin/domain"
	"safecircle/internal/checkin/repository"
	"safecircle/internal/clock"
	"safecircle/internal/events"
	"safecircle/internal/telemetry"
)

var (
	// ErrInvalidInput is returned when create arguments are invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when the check-in does not exist.
	ErrNotFound = domain.ErrNotFound
)

// Deadlines is the scheduler view needed by the service. Both calls must not block.
type Deadlines interface {
	Arm(checkInID string, deadline time.Time, version int64)
	Cancel(checkInID string)
}

// CreateInput holds the arguments of Create.
type CreateInput struct {
	OwnerID    string
	Duration   time.Duration
	Context    domain.Context
	ContactIDs []string
}

// Service owns check-in state changes.
type Service struct {
	repo        repository.Repository
	clock       clock.Clock
	deadlines   Deadlines
	events      events.Publisher
	metrics     *telemetry.Metrics
	logger      *zap.Logger
	maxDuration time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithDeadlines arms and cancels scheduler timers on create and confirm.
func WithDeadlines(d Deadlines) Option { return func(s *Service) { s.deadlines = d } }

// WithEvents sets the state-change publisher.
func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMaxDuration rejects check-ins longer than d. Zero means unbounded.
func WithMaxDuration(d time.Duration) Option { return func(s *Service) { s.maxDuration = d } }

// New returns a Service over repo using clk for all timestamps.
func New(repo repository.Repository, clk clock.Clock, opts ...Option) *Service {
	s := &Service{repo: repo, clock: clk, events: events.Nop{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new active check-in with deadline now+duration and arms the scheduler.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.CheckIn, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if s.maxDuration > 0 && in.Duration > s.maxDuration {
		return nil, fmt.Errorf("%w: duration exceeds %s", ErrInvalidInput, s.maxDuration)
	}
	contacts := domain.NormalizeContacts(in.ContactIDs)
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: at least one contact is required", ErrInvalidInput)
	}
	for _, id := range contacts {
		if id == owner {
			return nil, fmt.Errorf("%w: owner cannot be their own contact", ErrInvalidInput)
		}
	}

	now := s.clock.Now()
	c := &domain.CheckIn{
		ID:                 uuid.New().String(),
		OwnerID:            owner,
		CreatedAt:          now,
		DeadlineAt:         now.Add(in.Duration),
		Status:             domain.StatusActive,
		SelectedContactIDs: contacts,
		Context:            in.Context,
		Version:            1,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create check-in: %w", err)
	}
	if s.deadlines != nil {
		s.deadlines.Arm(c.ID, c.DeadlineAt, c.Version)
	}
	s.metrics.CheckInCreated(ctx)
	s.publish(ctx, events.New(events.CheckInCreated, c.ID, c.OwnerID, now, map[string]any{
		"deadline_at":   c.DeadlineAt,
		"contact_count": len(contacts),
	}))
	s.logger.Info("check-in created",
		zap.String("checkin_id", c.ID),
		zap.String("owner_id", c.OwnerID),
		zap.Time("deadline_at", c.DeadlineAt))
	return c, nil
}

// Get returns the check-in or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.CheckIn, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// ConfirmSafe completes an active check-in. Confirming a completed check-in succeeds without a
// change; an alerted one yields the already_alerted conflict. expectedVersion 0 means the
// currently stored version. Never blocks on the scheduler or notification delivery.
func (s *Service) ConfirmSafe(ctx context.Context, id string, expectedVersion int64) (domain.Transition, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return domain.Transition{}, err
	}
	now := s.clock.Now()
	d := statemachine.Decide(*cur, statemachine.Confirm(now))
	if d.Conflict != "" {
		s.metrics.Conflict(ctx, string(d.Conflict))
		return domain.Transition{CheckIn: cur, Conflict: d.Conflict}, nil
	}
	if !d.Transition {
		return domain.Transition{CheckIn: cur}, nil
	}
	if expectedVersion == 0 {
		expectedVersion = cur.Version
	}

	tr, err := s.repo.CompareAndSetStatus(ctx, id, expectedVersion, domain.StatusCompleted, now)
	if err != nil {
		return domain.Transition{}, err
	}
	if !tr.Applied {
		if tr.Conflict == domain.ReasonAlreadyCompleted {
			return domain.Transition{CheckIn: tr.CheckIn}, nil
		}
		s.metrics.Conflict(ctx, string(tr.Conflict))
		return tr, nil
	}

	if d.Has(statemachine.EffectCancelDeadline) && s.deadlines != nil {
		s.deadlines.Cancel(id)
	}
	s.metrics.Transition(ctx, string(domain.StatusCompleted))
	if d.Has(statemachine.EffectPublishStateChange) {
		s.publish(ctx, events.New(events.CheckInCompleted, id, tr.CheckIn.OwnerID, now, map[string]any{
			"version": tr.CheckIn.Version,
		}))
	}
	s.logger.Info("check-in confirmed safe", zap.String("checkin_id", id))
	return tr, nil
}

// MarkAlerted moves an active check-in to alerted. The escalation service calls it after the
// state machine accepted a deadline or SOS event; it reports already_completed when the owner
// confirmed first.
func (s *Service) MarkAlerted(ctx context.Context, id string, expectedVersion int64) (domain.Transition, error) {
	tr, err := s.repo.CompareAndSetStatus(ctx, id, expectedVersion, domain.StatusAlerted, s.clock.Now())
	if err != nil {
		return domain.Transition{}, err
	}
	if tr.Applied {
		s.metrics.Transition(ctx, string(domain.StatusAlerted))
	} else {
		s.metrics.Conflict(ctx, string(tr.Conflict))
	}
	return tr, nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(ev.Type)), zap.Error(err))
	}
}
