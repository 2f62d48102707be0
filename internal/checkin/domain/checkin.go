package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a check-in.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAlerted   Status = "alerted"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAlerted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusAlerted:
		return true
	}
	return false
}

// ConflictReason explains why a requested transition was not applied.
type ConflictReason string

const (
	ReasonAlreadyCompleted ConflictReason = "already_completed"
	ReasonAlreadyAlerted   ConflictReason = "already_alerted"
	ReasonStaleVersion     ConflictReason = "stale_version"
	ReasonNotDue           ConflictReason = "not_due"
)

// ReasonForStatus returns the conflict reason reported when a check-in is already in terminal status s.
func ReasonForStatus(s Status) ConflictReason {
	switch s {
	case StatusCompleted:
		return ReasonAlreadyCompleted
	case StatusAlerted:
		return ReasonAlreadyAlerted
	}
	return ReasonStaleVersion
}

// ErrNotFound is returned when a check-in does not exist.
var ErrNotFound = errors.New("check-in not found")

// GeoPoint is an optional coordinate attached to a check-in.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Context is the opaque payload describing what the owner is doing. It is stored and
// returned but never interpreted by the state machine.
type Context struct {
	LocationText string    `json:"location_text,omitempty"`
	Geo          *GeoPoint `json:"geo,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	PhotoRefs    []string  `json:"photo_refs,omitempty"`
}

// CheckIn represents a declared activity with a deadline.
type CheckIn struct {
	ID                 string
	OwnerID            string
	CreatedAt          time.Time
	DeadlineAt         time.Time
	Status             Status
	SelectedContactIDs []string
	Context            Context
	Version            int64
	CompletedAt        *time.Time
	AlertedAt          *time.Time
}

// Clone returns a deep copy so callers never share slices with a store.
func (c *CheckIn) Clone() *CheckIn {
	if c == nil {
		return nil
	}
	out := *c
	out.SelectedContactIDs = append([]string(nil), c.SelectedContactIDs...)
	out.Context.PhotoRefs = append([]string(nil), c.Context.PhotoRefs...)
	if c.Context.Geo != nil {
		g := *c.Context.Geo
		out.Context.Geo = &g
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.AlertedAt != nil {
		t := *c.AlertedAt
		out.AlertedAt = &t
	}
	return &out
}

// ApplyTerminal returns a copy of c moved to status to at the given time with the version bumped.
func (c *CheckIn) ApplyTerminal(to Status, at time.Time) *CheckIn {
	out := c.Clone()
	out.Status = to
	out.Version = c.Version + 1
	t := at
	switch to {
	case StatusCompleted:
		out.CompletedAt = &t
	case StatusAlerted:
		out.AlertedAt = &t
	}
	return out
}

// Transition is the result of a compare-and-set on a check-in's status.
// Conflict is empty on success. Applied is true only for the call that performed the mutation.
type Transition struct {
	CheckIn  *CheckIn
	Applied  bool
	Conflict ConflictReason
}

// OK reports whether the transition succeeded (applied or idempotent).
func (t Transition) OK() bool { return t.Conflict == "" }

// NormalizeContacts trims ids, drops blanks and duplicates, and keeps first-seen order.
func NormalizeContacts(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
