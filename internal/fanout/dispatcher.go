package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"safecircle/internal/clock"
	"safecircle/internal/fanout/policy"
	"safecircle/internal/fanout/repository"
	"safecircle/internal/notify"
	"safecircle/internal/profile"
	"safecircle/internal/telemetry"
)

// Config bounds delivery work.
type Config struct {
	// RecipientConcurrency is the number of recipients handled in parallel per message.
	RecipientConcurrency int
	// MaxAttempts is the number of sends per channel before it is recorded failed.
	MaxAttempts int
	// ChannelTimeout bounds a single send.
	ChannelTimeout time.Duration
	// DeliveryLease is how long a claim blocks other dispatchers.
	DeliveryLease  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecipientConcurrency <= 0 {
		c.RecipientConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 10 * time.Second
	}
	if c.DeliveryLease <= 0 {
		c.DeliveryLease = 2 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Dispatcher sends one message to all of its recipients.
type Dispatcher struct {
	directory profile.Directory
	planner   policy.Planner
	senders   *notify.Registry
	ledger    repository.Repository
	clock     clock.Clock
	cfg       Config
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// NewDispatcher returns a Dispatcher. A nil planner uses policy.Static.
func NewDispatcher(directory profile.Directory, planner policy.Planner, senders *notify.Registry, ledger repository.Repository, clk clock.Clock, cfg Config, opts ...Option) *Dispatcher {
	if planner == nil {
		planner = policy.Static{}
	}
	d := &Dispatcher{
		directory: directory,
		planner:   planner,
		senders:   senders,
		ledger:    ledger,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers msg to every recipient and returns what happened. It never fails as a whole:
// per-channel failures are in the report and the ledger. An empty recipient list yields an
// empty report.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Report {
	ctx, span := telemetry.Tracer().Start(ctx, "fanout.Dispatch", trace.WithAttributes(
		attribute.String("event_id", msg.EventID),
		attribute.String("kind", string(msg.Kind)),
		attribute.Int("recipients", len(msg.RecipientIDs)),
	))
	defer span.End()

	report := Report{EventID: msg.EventID, Recipients: make([]RecipientReport, len(msg.RecipientIDs))}
	if len(msg.RecipientIDs) == 0 {
		return report
	}
	p := pool.New().WithMaxGoroutines(d.cfg.RecipientConcurrency)
	for i, rid := range msg.RecipientIDs {
		p.Go(func() {
			report.Recipients[i] = d.dispatchRecipient(ctx, msg, rid)
		})
	}
	p.Wait()

	span.SetAttributes(attribute.Int("failures", report.Failures()))
	d.logger.Info("fanout dispatched",
		zap.String("event_id", msg.EventID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("recipients", len(msg.RecipientIDs)),
		zap.Int("failures", report.Failures()))
	return report
}

func (d *Dispatcher) dispatchRecipient(ctx context.Context, msg Message, recipientID string) RecipientReport {
	rr := RecipientReport{RecipientID: recipientID, Outcomes: []ChannelOutcome{}}
	channels, err := d.directory.ContactChannels(ctx, recipientID)
	if err != nil {
		rr.Error = err.Error()
		d.logger.Warn("resolve contact channels", zap.String("event_id", msg.EventID), zap.String("recipient_id", recipientID), zap.Error(err))
		return rr
	}
	plan, err := d.planner.Plan(ctx, policy.Input{
		Kind:      string(msg.Kind),
		Trigger:   msg.Data["trigger"],
		Available: channels.Available(),
	})
	if err != nil {
		plan = policy.DefaultPlan(policy.Input{Kind: string(msg.Kind), Available: channels.Available()})
	}
	if len(plan.Channels) == 0 {
		rr.Error = "no reachable channel"
		return rr
	}

	payload := notify.Payload{Title: msg.Title, Body: msg.Body, Data: msg.Data}
	for _, ch := range plan.Channels {
		out := d.deliver(ctx, msg.EventID, recipientID, ch, channels.Address(ch), payload)
		rr.Outcomes = append(rr.Outcomes, out)
		d.metrics.Delivery(ctx, ch, string(out.Status))
		if plan.Mode == policy.ModeFirstSuccess && (out.Status == OutcomeDelivered || out.Status == OutcomeSkippedDelivered) {
			break
		}
	}
	return rr
}

func (d *Dispatcher) deliver(ctx context.Context, eventID, recipientID, channel, address string, payload notify.Payload) ChannelOutcome {
	out := ChannelOutcome{Channel: channel}
	sender, ok := d.senders.Sender(notify.Channel(channel))
	if !ok {
		out.Status = OutcomeUnavailable
		return out
	}

	key := repository.Key{EventID: eventID, RecipientID: recipientID, Channel: channel}
	claim, err := d.ledger.Claim(ctx, key, d.clock.Now(), d.cfg.DeliveryLease)
	if err != nil {
		out.Status = OutcomeFailed
		out.Error = err.Error()
		d.logger.Warn("claim delivery", zap.String("event_id", eventID), zap.String("recipient_id", recipientID), zap.String("channel", channel), zap.Error(err))
		return out
	}
	switch claim {
	case repository.ClaimAlreadyDelivered:
		out.Status = OutcomeSkippedDelivered
		return out
	case repository.ClaimInFlight:
		out.Status = OutcomeSkippedInFlight
		return out
	}

	sendErr := d.send(ctx, sender, address, payload, &out.Attempts)
	if sendErr != nil {
		out.Status = OutcomeFailed
		out.Error = sendErr.Error()
	} else {
		out.Status = OutcomeDelivered
	}
	// The ledger write must survive a cancelled dispatch so the row is not left pending.
	if err := d.ledger.Complete(context.WithoutCancel(ctx), key, sendErr == nil, out.Attempts, out.Error, d.clock.Now()); err != nil {
		d.logger.Error("record delivery", zap.String("event_id", eventID), zap.String("recipient_id", recipientID), zap.String("channel", channel), zap.Error(err))
	}
	if sendErr != nil {
		d.logger.Warn("delivery failed",
			zap.String("event_id", eventID),
			zap.String("recipient_id", recipientID),
			zap.String("channel", channel),
			zap.Int("attempts", out.Attempts),
			zap.Error(sendErr))
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, sender notify.Sender, address string, payload notify.Payload, attempts *int) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.InitialBackoff
	exp.MaxInterval = d.cfg.MaxBackoff

	op := func() (struct{}, error) {
		*attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		defer cancel()
		err := sender.Send(attemptCtx, address, payload)
		if errors.Is(err, notify.ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
	)
	return err
}
