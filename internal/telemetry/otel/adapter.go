package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"safecircle/internal/events"
)

// LogEmitter is the subset of otellog.Logger used by the event emitter.
type LogEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an events.Publisher that writes every event as an OTel log record.
// A nil provider yields a no-op publisher.
func NewEventEmitter(provider *sdklog.LoggerProvider) events.Publisher {
	if provider == nil {
		return events.Nop{}
	}
	return &eventEmitter{logger: provider.Logger("safecircle.events")}
}

// NewEventEmitterWithLogger returns an emitter over an arbitrary logger.
func NewEventEmitterWithLogger(logger LogEmitter) events.Publisher {
	return &eventEmitter{logger: logger}
}

type eventEmitter struct {
	logger LogEmitter
}

// Publish maps the event onto a log record: type and ids become attributes, Data the JSON body.
func (e *eventEmitter) Publish(ctx context.Context, ev events.Event) error {
	rec := otellog.Record{}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(string(ev.Type))
	if len(ev.Data) > 0 {
		body, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(
		otellog.String("event_id", ev.ID),
		otellog.String("event_type", string(ev.Type)),
		otellog.String("aggregate_id", ev.AggregateID),
	)
	if ev.OwnerID != "" {
		rec.AddAttributes(otellog.String("owner_id", ev.OwnerID))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
