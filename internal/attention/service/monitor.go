// Package service runs attention requests: an owner raises a support flag and their trusted circle
// is notified through the fanout dispatcher, with no deadline and no response tracking.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"safecircle/internal/attention/domain"
	"safecircle/internal/attention/repository"
	"safecircle/internal/clock"
	"safecircle/internal/events"
	"safecircle/internal/fanout"
	"safecircle/internal/profile"
	"safecircle/internal/telemetry"
)

const (
	maxTagLength  = 64
	maxNoteLength = 1000
	raiseAttempts = 3
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = domain.ErrNotFound
	// ErrForbidden is returned when a caller touches another owner's request.
	ErrForbidden = errors.New("not the owner of this attention request")
)

// Enqueuer accepts fanout jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job fanout.Job) error
}

// Monitor raises and clears attention requests.
type Monitor struct {
	repo      repository.Repository
	circle    profile.Circle
	directory profile.Directory
	queue     Enqueuer
	clock     clock.Clock
	events    events.Publisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDirectory resolves the owner's display name for the notification text.
func WithDirectory(d profile.Directory) Option { return func(m *Monitor) { m.directory = d } }

func WithEvents(p events.Publisher) Option { return func(m *Monitor) { m.events = p } }

func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

// New returns a Monitor. queue may be nil, in which case nothing is delivered.
func New(repo repository.Repository, circle profile.Circle, queue Enqueuer, clk clock.Clock, opts ...Option) *Monitor {
	m := &Monitor{repo: repo, circle: circle, queue: queue, clock: clk, events: events.Nop{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise makes a new active request for the owner, superseding any previous one, and notifies the
// owner's trusted contacts. A delivery problem never fails the raise.
func (m *Monitor) Raise(ctx context.Context, ownerID, tag, note string) (*domain.Request, error) {
	ownerID = strings.TrimSpace(ownerID)
	tag = strings.TrimSpace(tag)
	if ownerID == "" || tag == "" || len(tag) > maxTagLength || len(note) > maxNoteLength {
		return nil, ErrInvalidInput
	}

	req := &domain.Request{OwnerID: ownerID, Tag: tag, Note: note, Active: true}
	var (
		superseded *domain.Request
		err        error
	)
	for attempt := 0; attempt < raiseAttempts; attempt++ {
		req.ID = uuid.New().String()
		req.RaisedAt = m.clock.Now()
		superseded, err = m.repo.ReplaceActive(ctx, req)
		if !errors.Is(err, repository.ErrActiveExists) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if superseded != nil {
		m.publish(ctx, events.New(events.AttentionCleared, superseded.ID, ownerID, req.RaisedAt, map[string]any{
			"superseded_by": req.ID,
		}))
	}
	m.metrics.AttentionRaised(ctx, tag)
	m.publish(ctx, events.New(events.AttentionRaised, req.ID, ownerID, req.RaisedAt, map[string]any{"tag": tag}))
	m.logger.Info("attention request raised", zap.String("attention_id", req.ID), zap.String("owner_id", ownerID), zap.String("tag", tag))

	if err := m.notify(ctx, req); err != nil {
		m.logger.Warn("attention fanout not queued", zap.String("attention_id", req.ID), zap.Error(err))
	}
	return req.Clone(), nil
}

// Clear deactivates the request. Clearing an inactive request returns it unchanged.
func (m *Monitor) Clear(ctx context.Context, ownerID, requestID string) (*domain.Request, error) {
	cur, err := m.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if cur.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	now := m.clock.Now()
	req, changed, err := m.repo.Deactivate(ctx, requestID, now)
	if err != nil {
		return nil, err
	}
	if changed {
		m.publish(ctx, events.New(events.AttentionCleared, req.ID, ownerID, now, nil))
		m.logger.Info("attention request cleared", zap.String("attention_id", req.ID), zap.String("owner_id", ownerID))
	}
	return req, nil
}

// Active returns the owner's active request, or ErrNotFound.
func (m *Monitor) Active(ctx context.Context, ownerID string) (*domain.Request, error) {
	req, err := m.repo.ActiveFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

func (m *Monitor) notify(ctx context.Context, req *domain.Request) error {
	if m.queue == nil {
		return nil
	}
	contacts, err := m.circle.TrustedContacts(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}
	name := "Your contact"
	if m.directory != nil {
		if n, err := m.directory.DisplayName(ctx, req.OwnerID); err == nil && n != "" {
			name = n
		}
	}
	body := name + " asked for support (" + req.Tag + ")."
	if req.Note != "" {
		body += " " + req.Note
	}
	attentionID := req.ID
	return m.queue.Enqueue(ctx, fanout.Job{
		Message: fanout.Message{
			EventID:      req.ID,
			Kind:         fanout.KindAttention,
			OwnerID:      req.OwnerID,
			RecipientIDs: contacts,
			Title:        name + " needs support",
			Body:         body,
			Data:         map[string]string{"attention_id": req.ID, "tag": req.Tag},
		},
		Done: func(_ context.Context, r fanout.Report) {
			m.logger.Info("attention fanout finished",
				zap.String("attention_id", attentionID),
				zap.Int("recipients", len(r.Recipients)),
				zap.Int("failures", r.Failures()))
		},
	})
}

func (m *Monitor) publish(ctx context.Context, ev events.Event) {
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish attention event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
