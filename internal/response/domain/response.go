// Package domain holds the response ledger model: what a contact did about an alert.
package domain

import "time"

// Kind is what a responder reports having done.
type Kind string

const (
	KindAcknowledged         Kind = "acknowledged"
	KindEnRoute              Kind = "en_route"
	KindContactedOwner       Kind = "contacted_owner"
	KindContactedAuthorities Kind = "contacted_authorities"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAcknowledged, KindEnRoute, KindContactedOwner, KindContactedAuthorities:
		return true
	}
	return false
}

// Response is one entry of the append-only ledger. Latency is RecordedAt minus the alert's FiredAt.
type Response struct {
	ID          string        `json:"id"`
	AlertID     string        `json:"alert_id"`
	ResponderID string        `json:"responder_id"`
	Kind        Kind          `json:"kind"`
	Note        string        `json:"note,omitempty"`
	RecordedAt  time.Time     `json:"recorded_at"`
	Latency     time.Duration `json:"latency_ns"`
}

// Clone returns a copy of r, or nil when r is nil.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
