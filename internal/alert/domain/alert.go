package domain

import (
	"errors"
	"time"
)

// Trigger says what raised an alert.
type Trigger string

const (
	TriggerDeadline Trigger = "deadline"
	TriggerSOS      Trigger = "sos"
)

// ErrNotFound is returned when an alert event does not exist.
var ErrNotFound = errors.New("alert event not found")

// AlertEvent records the single escalation of a check-in. At most one exists per check-in.
type AlertEvent struct {
	ID                string
	CheckInID         string
	OwnerID           string
	Trigger           Trigger
	FiredAt           time.Time
	RecipientIDs      []string
	ChannelsAttempted []string
	FanoutCompletedAt *time.Time
}

// Clone returns a deep copy.
func (a *AlertEvent) Clone() *AlertEvent {
	if a == nil {
		return nil
	}
	out := *a
	out.RecipientIDs = append([]string(nil), a.RecipientIDs...)
	out.ChannelsAttempted = append([]string(nil), a.ChannelsAttempted...)
	if a.FanoutCompletedAt != nil {
		t := *a.FanoutCompletedAt
		out.FanoutCompletedAt = &t
	}
	return &out
}

// IsRecipient reports whether userID was among the notified contacts.
func (a *AlertEvent) IsRecipient(userID string) bool {
	for _, id := range a.RecipientIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MergeChannels returns existing plus any of add not already present, preserving order.
func MergeChannels(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, ch := range list {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}
