// Package events defines the state-change events emitted by the safety engine and the
// publishers that carry them to Kafka and OpenTelemetry logs.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a state change.
type Type string

const (
	CheckInCreated   Type = "checkin.created"
	CheckInCompleted Type = "checkin.completed"
	AlertRaised      Type = "alert.raised"
	FanoutCompleted  Type = "alert.fanout_completed"
	ResponseRecorded Type = "response.recorded"
	AttentionRaised  Type = "attention.raised"
	AttentionCleared Type = "attention.cleared"
)

// Event is a single state change. Data carries identifiers and small scalar attributes only.
type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	OwnerID     string         `json:"owner_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// New returns an Event with a fresh id.
func New(typ Type, aggregateID, ownerID string, at time.Time, data map[string]any) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        typ,
		AggregateID: aggregateID,
		OwnerID:     ownerID,
		OccurredAt:  at.UTC(),
		Data:        data,
	}
}

// Publisher delivers events. Callers treat publishing as best-effort: they log and ignore errors.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Used by tests and the memory dev profile.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of the given type.
func (r *Recorder) OfType(t Type) []Event {
	out := make([]Event, 0)
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
