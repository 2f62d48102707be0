// Package telemetry holds the OpenTelemetry metric instruments and tracer used across the engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the meter and tracer scope for the engine.
const InstrumentationName = "safecircle"

// Tracer returns the engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Metrics records engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	checkInsCreated   metric.Int64Counter
	transitions       metric.Int64Counter
	conflicts         metric.Int64Counter
	alertsRaised      metric.Int64Counter
	deliveries        metric.Int64Counter
	responses         metric.Int64Counter
	responseLatency   metric.Float64Histogram
	schedulerRetries  metric.Int64Counter
	attentionRequests metric.Int64Counter
}

// NewMetrics creates the instruments on mp. Pass otel.GetMeterProvider() for the global provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(InstrumentationName)
	var (
		m   Metrics
		err error
	)
	if m.checkInsCreated, err = meter.Int64Counter("safecircle.checkins.created",
		metric.WithDescription("Check-ins created")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("safecircle.checkins.transitions",
		metric.WithDescription("Check-in terminal transitions by target status")); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("safecircle.checkins.conflicts",
		metric.WithDescription("Rejected check-in transitions by reason")); err != nil {
		return nil, err
	}
	if m.alertsRaised, err = meter.Int64Counter("safecircle.alerts.raised",
		metric.WithDescription("Alert events raised by trigger")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("safecircle.fanout.deliveries",
		metric.WithDescription("Per-channel delivery outcomes")); err != nil {
		return nil, err
	}
	if m.responses, err = meter.Int64Counter("safecircle.responses.recorded",
		metric.WithDescription("Responses recorded by kind")); err != nil {
		return nil, err
	}
	if m.responseLatency, err = meter.Float64Histogram("safecircle.responses.latency",
		metric.WithDescription("Time from alert to first response of a kind"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.schedulerRetries, err = meter.Int64Counter("safecircle.scheduler.retries",
		metric.WithDescription("Deadline escalations rescheduled after a transient failure")); err != nil {
		return nil, err
	}
	if m.attentionRequests, err = meter.Int64Counter("safecircle.attention.raised",
		metric.WithDescription("Attention requests raised")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) CheckInCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkInsCreated.Add(ctx, 1)
}

func (m *Metrics) Transition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
}

func (m *Metrics) Conflict(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) AlertRaised(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (m *Metrics) Delivery(ctx context.Context, channel, status string) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status)))
}

func (m *Metrics) ResponseRecorded(ctx context.Context, kind string, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.responses.Add(ctx, 1, attrs)
	m.responseLatency.Record(ctx, latency.Seconds(), attrs)
}

func (m *Metrics) SchedulerRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.schedulerRetries.Add(ctx, 1)
}

func (m *Metrics) AttentionRaised(ctx context.Context, tag string) {
	if m == nil {
		return
	}
	m.attentionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("tag", tag)))
}
