package fanout

// OutcomeStatus is the result for one channel of one recipient.
type OutcomeStatus string

const (
	OutcomeDelivered        OutcomeStatus = "delivered"
	OutcomeFailed           OutcomeStatus = "failed"
	OutcomeSkippedDelivered OutcomeStatus = "skipped_delivered"
	OutcomeSkippedInFlight  OutcomeStatus = "skipped_in_flight"
	OutcomeUnavailable      OutcomeStatus = "unavailable"
)

// ChannelOutcome records what happened on one channel.
type ChannelOutcome struct {
	Channel  string        `json:"channel"`
	Status   OutcomeStatus `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// RecipientReport collects the outcomes for one recipient. Error is set when the recipient could
// not be resolved at all.
type RecipientReport struct {
	RecipientID string           `json:"recipient_id"`
	Outcomes    []ChannelOutcome `json:"outcomes"`
	Error       string           `json:"error,omitempty"`
}

// Delivered reports whether any channel reached the recipient, now or in an earlier dispatch.
func (r RecipientReport) Delivered() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeDelivered || o.Status == OutcomeSkippedDelivered {
			return true
		}
	}
	return false
}

// Report is the result of dispatching one message.
type Report struct {
	EventID    string            `json:"event_id"`
	Recipients []RecipientReport `json:"recipients"`
}

// Recipient returns the report for id.
func (r Report) Recipient(id string) (RecipientReport, bool) {
	for _, rr := range r.Recipients {
		if rr.RecipientID == id {
			return rr, true
		}
	}
	return RecipientReport{}, false
}

// Delivered reports whether recipient id was reached on at least one channel.
func (r Report) Delivered(id string) bool {
	rr, ok := r.Recipient(id)
	return ok && rr.Delivered()
}

// AttemptedChannels lists, in first-seen order, every channel a send was made or already recorded on.
func (r Report) AttemptedChannels() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, rr := range r.Recipients {
		for _, o := range rr.Outcomes {
			switch o.Status {
			case OutcomeDelivered, OutcomeFailed, OutcomeSkippedDelivered:
			default:
				continue
			}
			if _, ok := seen[o.Channel]; ok {
				continue
			}
			seen[o.Channel] = struct{}{}
			out = append(out, o.Channel)
		}
	}
	return out
}

// Failures counts failed channel outcomes and unresolved recipients.
// InFlight reports whether any channel was skipped because another dispatcher held its claim. Such
// a report does not prove delivery and the message must stay resumable.
func (r Report) InFlight() bool {
	for _, rr := range r.Recipients {
		for _, o := range rr.Outcomes {
			if o.Status == OutcomeSkippedInFlight {
				return true
			}
		}
	}
	return false
}

func (r Report) Failures() int {
	n := 0
	for _, rr := range r.Recipients {
		if rr.Error != "" {
			n++
		}
		for _, o := range rr.Outcomes {
			if o.Status == OutcomeFailed {
				n++
			}
		}
	}
	return n
}
