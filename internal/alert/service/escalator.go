// Package service escalates check-ins: it commits the alerted transition, records the single alert
// event and hands notification delivery to the fanout queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/alert/repository"
	"safecircle/internal/alert/statemachine"
	checkindomain "safecircle/internal/checkin/domain"
	checkinservice "safecircle/internal/checkin/service"
	"safecircle/internal/clock"
	"safecircle/internal/events"
	"safecircle/internal/fanout"
	"safecircle/internal/profile"
	"safecircle/internal/telemetry"
)

var (
	// ErrNotDue is returned by FireDeadline when the deadline has not passed yet.
	ErrNotDue = errors.New("deadline not due")
	// ErrInvalidTrigger is returned for an unknown trigger.
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// Enqueuer accepts fanout jobs without blocking on delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job fanout.Job) error
}

// Deadlines cancels a pending deadline timer.
type Deadlines interface {
	Cancel(checkInID string)
}

// Result is the outcome of an escalation. Conflict is set when the check-in was not Active.
type Result struct {
	CheckIn  *checkindomain.CheckIn
	Alert    *alertdomain.AlertEvent
	Conflict checkindomain.ConflictReason
}

// OK reports whether the escalation took effect.
func (r Result) OK() bool { return r.Conflict == "" }

// Escalator raises alerts for check-ins.
type Escalator struct {
	checkins  *checkinservice.Service
	alerts    repository.Repository
	queue     Enqueuer
	clock     clock.Clock
	directory profile.Directory
	deadlines Deadlines
	events    events.Publisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithDirectory resolves owner display names for notification text.
func WithDirectory(d profile.Directory) Option { return func(e *Escalator) { e.directory = d } }

// WithDeadlines cancels scheduler timers when an SOS preempts the deadline.
func WithDeadlines(d Deadlines) Option { return func(e *Escalator) { e.deadlines = d } }

// WithEvents sets the state-change publisher.
func WithEvents(p events.Publisher) Option { return func(e *Escalator) { e.events = p } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(e *Escalator) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Escalator) { e.logger = l } }

// New returns an Escalator. queue may be nil, in which case nothing is delivered.
func New(checkins *checkinservice.Service, alerts repository.Repository, queue Enqueuer, clk clock.Clock, opts ...Option) *Escalator {
	e := &Escalator{
		checkins: checkins,
		alerts:   alerts,
		queue:    queue,
		clock:    clk,
		events:   events.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Escalate moves the check-in to Alerted for trigger and raises its alert. Lost races come back as
// a Result with Conflict set. expectedVersion 0 means the currently stored version.
func (e *Escalator) Escalate(ctx context.Context, checkInID string, expectedVersion int64, trigger alertdomain.Trigger) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "alert.Escalate", trace.WithAttributes(
		attribute.String("checkin_id", checkInID),
		attribute.String("trigger", string(trigger)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if res.Conflict != "" {
			span.SetAttributes(attribute.String("conflict", string(res.Conflict)))
		}
		span.End()
	}()

	now := e.clock.Now()
	var ev statemachine.Event
	switch trigger {
	case alertdomain.TriggerDeadline:
		ev = statemachine.DeadlineFired(now)
	case alertdomain.TriggerSOS:
		ev = statemachine.ManualSOS(now)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	c, err := e.checkins.Get(ctx, checkInID)
	if err != nil {
		return Result{}, err
	}
	d := statemachine.Decide(*c, ev)
	if d.Conflict != "" {
		if d.Conflict == checkindomain.ReasonAlreadyAlerted {
			if err := e.repair(ctx, c); err != nil {
				return Result{CheckIn: c, Conflict: d.Conflict}, err
			}
		}
		return Result{CheckIn: c, Conflict: d.Conflict}, nil
	}
	if expectedVersion == 0 {
		expectedVersion = c.Version
	}

	tr, err := e.checkins.MarkAlerted(ctx, checkInID, expectedVersion)
	if err != nil {
		return Result{}, err
	}
	if !tr.Applied {
		if tr.Conflict == checkindomain.ReasonAlreadyAlerted {
			if err := e.repair(ctx, tr.CheckIn); err != nil {
				return Result{CheckIn: tr.CheckIn, Conflict: tr.Conflict}, err
			}
		}
		return Result{CheckIn: tr.CheckIn, Conflict: tr.Conflict}, nil
	}

	if d.Has(statemachine.EffectCancelDeadline) && e.deadlines != nil {
		e.deadlines.Cancel(checkInID)
	}
	raiseTrigger, _ := d.RaiseTrigger()
	alert, err := e.raise(ctx, tr.CheckIn, raiseTrigger, now)
	if err != nil {
		// The check-in is Alerted without an event; a retry or the sweep repairs it.
		return Result{CheckIn: tr.CheckIn}, err
	}
	return Result{CheckIn: tr.CheckIn, Alert: alert}, nil
}

// FireDeadline is the scheduler callback. A nil return means the entry is finished (escalated,
// lost to a confirmation, or gone); an error asks for a retry.
func (e *Escalator) FireDeadline(ctx context.Context, checkInID string, version int64) error {
	res, err := e.Escalate(ctx, checkInID, version, alertdomain.TriggerDeadline)
	if errors.Is(err, checkindomain.ErrNotFound) {
		e.logger.Warn("deadline fired for unknown check-in", zap.String("checkin_id", checkInID))
		return nil
	}
	if err != nil {
		return err
	}
	if res.Conflict == checkindomain.ReasonNotDue {
		return ErrNotDue
	}
	return nil
}

// RepairOrphan records the missing alert event of a check-in that reached Alerted but crashed
// before its event was written. It is a no-op for any other check-in.
func (e *Escalator) RepairOrphan(ctx context.Context, checkInID string) error {
	c, err := e.checkins.Get(ctx, checkInID)
	if err != nil {
		return err
	}
	return e.repair(ctx, c)
}

// ResumeFanout re-queues delivery for an alert whose fanout never completed. Deliveries already
// made are skipped by the ledger.
func (e *Escalator) ResumeFanout(ctx context.Context, alertID string) error {
	alert, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert == nil {
		return alertdomain.ErrNotFound
	}
	if alert.FanoutCompletedAt != nil {
		return nil
	}
	c, err := e.checkins.Get(ctx, alert.CheckInID)
	if err != nil {
		return err
	}
	e.logger.Info("resuming alert fanout", zap.String("alert_id", alert.ID), zap.String("checkin_id", c.ID))
	return e.enqueue(ctx, c, alert)
}

func (e *Escalator) repair(ctx context.Context, c *checkindomain.CheckIn) error {
	if c.Status != checkindomain.StatusAlerted {
		return nil
	}
	existing, err := e.alerts.GetByCheckInID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	firedAt := e.clock.Now()
	if c.AlertedAt != nil {
		firedAt = *c.AlertedAt
	}
	trigger := alertdomain.TriggerDeadline
	if firedAt.Before(c.DeadlineAt) {
		trigger = alertdomain.TriggerSOS
	}
	e.logger.Warn("repairing alerted check-in without alert event", zap.String("checkin_id", c.ID), zap.String("trigger", string(trigger)))
	_, err = e.raise(ctx, c, trigger, firedAt)
	return err
}

func (e *Escalator) raise(ctx context.Context, c *checkindomain.CheckIn, trigger alertdomain.Trigger, firedAt time.Time) (*alertdomain.AlertEvent, error) {
	stored, created, err := e.alerts.Create(ctx, statemachine.BuildAlertEvent(uuid.New().String(), c, trigger, firedAt))
	if err != nil {
		return nil, fmt.Errorf("persist alert event: %w", err)
	}
	if !created {
		return stored, nil
	}

	e.metrics.AlertRaised(ctx, string(trigger))
	e.publish(ctx, events.New(events.AlertRaised, stored.ID, stored.OwnerID, firedAt, map[string]any{
		"checkin_id":      c.ID,
		"trigger":         string(trigger),
		"recipient_count": len(stored.RecipientIDs),
	}))
	e.logger.Info("alert raised",
		zap.String("alert_id", stored.ID),
		zap.String("checkin_id", c.ID),
		zap.String("trigger", string(trigger)),
		zap.Int("recipients", len(stored.RecipientIDs)))

	if err := e.enqueue(ctx, c, stored); err != nil {
		// Delivery is picked up by the sweep; the alert itself is committed.
		e.logger.Warn("enqueue alert fanout", zap.String("alert_id", stored.ID), zap.Error(err))
	}
	return stored, nil
}

func (e *Escalator) enqueue(ctx context.Context, c *checkindomain.CheckIn, alert *alertdomain.AlertEvent) error {
	if e.queue == nil {
		return nil
	}
	msg := fanout.Message{
		EventID:      alert.ID,
		Kind:         fanout.KindAlert,
		OwnerID:      alert.OwnerID,
		RecipientIDs: append([]string(nil), alert.RecipientIDs...),
		Data: map[string]string{
			"alert_id":   alert.ID,
			"checkin_id": alert.CheckInID,
			"trigger":    string(alert.Trigger),
		},
	}
	msg.Title, msg.Body = e.compose(ctx, c, alert)
	return e.queue.Enqueue(ctx, fanout.Job{Message: msg, Done: e.fanoutDone(alert.ID, alert.OwnerID)})
}

func (e *Escalator) fanoutDone(alertID, ownerID string) func(context.Context, fanout.Report) {
	return func(ctx context.Context, r fanout.Report) {
		ctx = context.WithoutCancel(ctx)
		if channels := r.AttemptedChannels(); len(channels) > 0 {
			if err := e.alerts.AddChannelsAttempted(ctx, alertID, channels); err != nil {
				e.logger.Error("record attempted channels", zap.String("alert_id", alertID), zap.Error(err))
			}
		}
		if r.InFlight() {
			// A claim held by a crashed or slower dispatcher; the sweep resumes once it expires.
			e.logger.Warn("alert fanout left incomplete, deliveries still claimed elsewhere",
				zap.String("alert_id", alertID))
			return
		}
		now := e.clock.Now()
		if err := e.alerts.MarkFanoutComplete(ctx, alertID, now); err != nil {
			e.logger.Error("mark fanout complete", zap.String("alert_id", alertID), zap.Error(err))
			return
		}
		delivered := 0
		for _, rr := range r.Recipients {
			if rr.Delivered() {
				delivered++
			}
		}
		e.publish(ctx, events.New(events.FanoutCompleted, alertID, ownerID, now, map[string]any{
			"recipients": len(r.Recipients),
			"delivered":  delivered,
			"failures":   r.Failures(),
		}))
	}
}

func (e *Escalator) compose(ctx context.Context, c *checkindomain.CheckIn, alert *alertdomain.AlertEvent) (string, string) {
	name := "Your contact"
	if e.directory != nil {
		if n, err := e.directory.DisplayName(ctx, c.OwnerID); err == nil && n != "" {
			name = n
		}
	}
	title := "Safety alert for " + name

	var b strings.Builder
	if alert.Trigger == alertdomain.TriggerSOS {
		b.WriteString(name + " triggered an SOS.")
	} else {
		b.WriteString(name + " did not check in by " + c.DeadlineAt.UTC().Format("15:04 MST") + ".")
	}
	if c.Context.LocationText != "" {
		b.WriteString(" Last known location: " + c.Context.LocationText + ".")
	}
	if g := c.Context.Geo; g != nil {
		b.WriteString(" Coordinates: " + strconv.FormatFloat(g.Lat, 'f', 5, 64) + ", " + strconv.FormatFloat(g.Lng, 'f', 5, 64) + ".")
	}
	if c.Context.Notes != "" {
		b.WriteString(" Notes: " + c.Context.Notes)
	}
	return title, b.String()
}

func (e *Escalator) publish(ctx context.Context, ev events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event", zap.String("event_type", string(ev.Type)), zap.Error(err))
	}
}
