// Package fanout delivers a notification to every recipient of an alert or attention request over
// the channels their profile lists, exactly once per (event, recipient, channel).
package fanout

import "context"

// Kind selects the delivery policy.
type Kind string

const (
	KindAlert     Kind = "alert"
	KindAttention Kind = "attention"
)

// Message is one notification to fan out. EventID keys the delivery ledger, so re-dispatching the
// same message never sends a channel twice.
type Message struct {
	EventID      string
	Kind         Kind
	OwnerID      string
	RecipientIDs []string
	Title        string
	Body         string
	Data         map[string]string
}

// Job is a queued message plus an optional callback run with the finished report.
type Job struct {
	Message Message
	Done    func(ctx context.Context, r Report)
}
