package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const policyQuery = "data.safecircle.fanout"

// DefaultRego mirrors DefaultPlan and routes SOS alerts to SMS first.
const DefaultRego = `package safecircle.fanout

default mode = "all"

mode = "first_success" if {
	input.kind == "attention"
}

default order = ["push", "sms", "email"]

order = ["sms", "push", "email"] if {
	input.trigger == "sos"
}

channels := [c | some c in order; c in input.available]
`

// OPAPlanner evaluates a Rego policy per recipient. The query is prepared once.
type OPAPlanner struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAPlanner compiles module (DefaultRego when empty) and prepares the plan query.
func NewOPAPlanner(ctx context.Context, module string, logger *zap.Logger) (*OPAPlanner, error) {
	if module == "" {
		module = DefaultRego
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	compiler, err := ast.CompileModules(map[string]string{"fanout.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile fanout policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare fanout policy: %w", err)
	}
	return &OPAPlanner{query: query, logger: logger}, nil
}

// Plan evaluates the policy. Evaluation failures are logged and answered with DefaultPlan so that
// a broken policy never stops an alert.
func (p *OPAPlanner) Plan(ctx context.Context, in Input) (Plan, error) {
	plan, err := p.eval(ctx, in)
	if err != nil {
		p.logger.Warn("fanout policy evaluation failed, using defaults", zap.String("kind", in.Kind), zap.Error(err))
		return DefaultPlan(in), nil
	}
	return plan, nil
}

// HealthCheck evaluates the prepared policy against a minimal input.
func (p *OPAPlanner) HealthCheck(ctx context.Context) error {
	_, err := p.eval(ctx, Input{Kind: "alert", Trigger: "deadline", Available: []string{"push"}})
	return err
}

func (p *OPAPlanner) eval(ctx context.Context, in Input) (Plan, error) {
	available := make([]interface{}, 0, len(in.Available))
	for _, ch := range in.Available {
		available = append(available, ch)
	}
	input := map[string]interface{}{
		"kind":      in.Kind,
		"trigger":   in.Trigger,
		"available": available,
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Plan{}, fmt.Errorf("eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Plan{}, fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Plan{}, fmt.Errorf("unexpected policy result %T", rs[0].Expressions[0].Value)
	}

	plan := Plan{Mode: ModeAll}
	if m, ok := doc["mode"].(string); ok {
		switch Mode(m) {
		case ModeAll, ModeFirstSuccess:
			plan.Mode = Mode(m)
		default:
			return Plan{}, fmt.Errorf("unknown mode %q", m)
		}
	}
	raw, ok := doc["channels"].([]interface{})
	if !ok {
		return Plan{}, fmt.Errorf("policy did not produce channels")
	}
	plan.Channels = make([]string, 0, len(raw))
	for _, v := range raw {
		ch, ok := v.(string)
		if !ok {
			return Plan{}, fmt.Errorf("non-string channel %v", v)
		}
		plan.Channels = append(plan.Channels, ch)
	}
	// Only channels the recipient can be reached on survive, whatever the policy says.
	plan.Channels = filter(plan.Channels, in.Available)
	return plan, nil
}
