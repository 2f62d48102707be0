// Package policy decides which channels a fanout uses for a recipient and in what order.
package policy

import "context"

// Mode controls how far down the channel list a dispatcher goes.
type Mode string

const (
	// ModeAll sends on every planned channel.
	ModeAll Mode = "all"
	// ModeFirstSuccess stops at the first channel that delivers.
	ModeFirstSuccess Mode = "first_success"
)

// Input describes one recipient's delivery situation.
type Input struct {
	Kind      string   `json:"kind"`
	Trigger   string   `json:"trigger,omitempty"`
	Available []string `json:"available"`
}

// Plan is the ordered channel list and stop mode for one recipient.
type Plan struct {
	Channels []string
	Mode     Mode
}

// Planner produces a Plan for a recipient.
type Planner interface {
	Plan(ctx context.Context, in Input) (Plan, error)
}

var defaultOrder = []string{"push", "sms", "email"}

// DefaultPlan is the built-in plan used when no policy engine is configured or evaluation fails:
// push, sms, email for everything; first_success for attention requests.
func DefaultPlan(in Input) Plan {
	mode := ModeAll
	if in.Kind == "attention" {
		mode = ModeFirstSuccess
	}
	return Plan{Channels: filter(defaultOrder, in.Available), Mode: mode}
}

func filter(order, available []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, ch := range available {
		have[ch] = struct{}{}
	}
	out := make([]string, 0, len(available))
	for _, ch := range order {
		if _, ok := have[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Static always returns DefaultPlan.
type Static struct{}

func (Static) Plan(_ context.Context, in Input) (Plan, error) { return DefaultPlan(in), nil }
