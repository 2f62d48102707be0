// Package statemachine decides check-in transitions. It is pure: it reads a snapshot and an
// event and returns the next status plus the side effects the caller must perform.
package statemachine

import (
	"time"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/checkin/domain"
)

// EventKind is an external event acting on a check-in.
type EventKind string

const (
	EventConfirm       EventKind = "confirm"
	EventDeadlineFired EventKind = "deadline_fired"
	EventManualSOS     EventKind = "manual_sos"
)

// Event is an input to Decide.
type Event struct {
	Kind EventKind
	At   time.Time
}

func Confirm(at time.Time) Event       { return Event{Kind: EventConfirm, At: at} }
func DeadlineFired(at time.Time) Event { return Event{Kind: EventDeadlineFired, At: at} }
func ManualSOS(at time.Time) Event     { return Event{Kind: EventManualSOS, At: at} }

// EffectKind is a side effect requested by a decision.
type EffectKind string

const (
	EffectCancelDeadline     EffectKind = "cancel_deadline"
	EffectRaiseAlert         EffectKind = "raise_alert"
	EffectPublishStateChange EffectKind = "publish_state_change"
)

// Effect is one side effect. Trigger is set for EffectRaiseAlert.
type Effect struct {
	Kind    EffectKind
	Trigger alertdomain.Trigger
}

// Decision is the outcome of applying an event to a snapshot.
// Transition is false for conflicts and for idempotent repeats; Conflict is empty unless rejected.
type Decision struct {
	From       domain.Status
	Next       domain.Status
	Transition bool
	Conflict   domain.ConflictReason
	Effects    []Effect
}

// Has reports whether the decision requests an effect of the given kind.
func (d Decision) Has(kind EffectKind) bool {
	for _, e := range d.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// RaiseTrigger returns the trigger of the RaiseAlert effect, if any.
func (d Decision) RaiseTrigger() (alertdomain.Trigger, bool) {
	for _, e := range d.Effects {
		if e.Kind == EffectRaiseAlert {
			return e.Trigger, true
		}
	}
	return "", false
}

// Decide applies ev to snapshot.
//
//	active    + confirm        -> completed  [cancel, publish]
//	active    + deadline fired -> alerted    [raise(deadline), publish]   (rejected not_due before the deadline)
//	active    + manual sos     -> alerted    [cancel, raise(sos), publish]
//	completed + confirm        -> no-op (idempotent)
//	completed + other          -> already_completed
//	alerted   + any            -> already_alerted
func Decide(snapshot domain.CheckIn, ev Event) Decision {
	d := Decision{From: snapshot.Status, Next: snapshot.Status}
	switch snapshot.Status {
	case domain.StatusCompleted:
		if ev.Kind != EventConfirm {
			d.Conflict = domain.ReasonAlreadyCompleted
		}
		return d
	case domain.StatusAlerted:
		d.Conflict = domain.ReasonAlreadyAlerted
		return d
	}

	switch ev.Kind {
	case EventConfirm:
		d.Next = domain.StatusCompleted
		d.Transition = true
		d.Effects = []Effect{{Kind: EffectCancelDeadline}, {Kind: EffectPublishStateChange}}
	case EventDeadlineFired:
		if ev.At.Before(snapshot.DeadlineAt) {
			d.Conflict = domain.ReasonNotDue
			return d
		}
		d.Next = domain.StatusAlerted
		d.Transition = true
		d.Effects = []Effect{
			{Kind: EffectRaiseAlert, Trigger: alertdomain.TriggerDeadline},
			{Kind: EffectPublishStateChange},
		}
	case EventManualSOS:
		d.Next = domain.StatusAlerted
		d.Transition = true
		d.Effects = []Effect{
			{Kind: EffectCancelDeadline},
			{Kind: EffectRaiseAlert, Trigger: alertdomain.TriggerSOS},
			{Kind: EffectPublishStateChange},
		}
	}
	return d
}

// BuildAlertEvent snapshots the recipients of c into a new alert event.
func BuildAlertEvent(id string, c *domain.CheckIn, trigger alertdomain.Trigger, firedAt time.Time) *alertdomain.AlertEvent {
	return &alertdomain.AlertEvent{
		ID:                id,
		CheckInID:         c.ID,
		OwnerID:           c.OwnerID,
		Trigger:           trigger,
		FiredAt:           firedAt,
		RecipientIDs:      append([]string(nil), c.SelectedContactIDs...),
		ChannelsAttempted: []string{},
	}
}
