// Package service records contacts' responses to alerts.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/clock"
	"safecircle/internal/events"
	"safecircle/internal/response/domain"
	"safecircle/internal/response/repository"
	"safecircle/internal/telemetry"
)

const maxNoteLength = 2000

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlertNotFound = alertdomain.ErrNotFound
	// ErrNotRecipient is returned when the responder was not notified of the alert.
	ErrNotRecipient = errors.New("responder is not a recipient of this alert")
)

// AlertSource looks up alert events. GetByID returns nil, nil when the alert does not exist.
type AlertSource interface {
	GetByID(ctx context.Context, id string) (*alertdomain.AlertEvent, error)
}

// Ledger is the append-only response ledger.
type Ledger struct {
	repo        repository.Repository
	alerts      AlertSource
	clock       clock.Clock
	dedupWindow time.Duration
	events      events.Publisher
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDedupWindow sets how long an identical submission is folded into the first. Zero or less
// deduplicates forever.
func WithDedupWindow(d time.Duration) Option { return func(l *Ledger) { l.dedupWindow = d } }

func WithEvents(p events.Publisher) Option { return func(l *Ledger) { l.events = p } }

func WithMetrics(m *telemetry.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

func WithLogger(lg *zap.Logger) Option { return func(l *Ledger) { l.logger = lg } }

// New returns a Ledger with a 10 minute dedup window unless overridden.
func New(repo repository.Repository, alerts AlertSource, clk clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		repo:        repo,
		alerts:      alerts,
		clock:       clk,
		dedupWindow: 10 * time.Minute,
		events:      events.Nop{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordResponse appends a response, or returns the earlier identical one with created false.
func (l *Ledger) RecordResponse(ctx context.Context, alertID, responderID string, kind domain.Kind, note string) (*domain.Response, bool, error) {
	alertID = strings.TrimSpace(alertID)
	responderID = strings.TrimSpace(responderID)
	if alertID == "" || responderID == "" || !kind.Valid() || len(note) > maxNoteLength {
		return nil, false, ErrInvalidInput
	}
	alert, err := l.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, false, err
	}
	if alert == nil {
		return nil, false, ErrAlertNotFound
	}
	if !alert.IsRecipient(responderID) {
		return nil, false, ErrNotRecipient
	}

	now := l.clock.Now()
	var since time.Time
	if l.dedupWindow > 0 {
		since = now.Add(-l.dedupWindow)
	}
	resp := &domain.Response{
		ID:          uuid.New().String(),
		AlertID:     alert.ID,
		ResponderID: responderID,
		Kind:        kind,
		Note:        note,
		RecordedAt:  now,
		Latency:     now.Sub(alert.FiredAt),
	}
	stored, created, err := l.repo.Record(ctx, resp, since)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return stored, false, nil
	}

	l.metrics.ResponseRecorded(ctx, string(kind), stored.Latency)
	if err := l.events.Publish(ctx, events.New(events.ResponseRecorded, alert.ID, alert.OwnerID, now, map[string]any{
		"response_id":  stored.ID,
		"responder_id": responderID,
		"kind":         string(kind),
		"latency_ms":   stored.Latency.Milliseconds(),
	})); err != nil {
		l.logger.Warn("publish response event", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	l.logger.Info("response recorded",
		zap.String("alert_id", alert.ID),
		zap.String("responder_id", responderID),
		zap.String("kind", string(kind)),
		zap.Duration("latency", stored.Latency))
	return stored, true, nil
}

// ListByAlert returns every response to the alert, oldest first.
func (l *Ledger) ListByAlert(ctx context.Context, alertID string) ([]*domain.Response, error) {
	alert, err := l.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	return l.repo.ListByAlert(ctx, alert.ID)
}
