package arbitrator

import (
	"context"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/disruption-ops/orchestrator/pkg/schema"
)

// constraintPolicy is the bundled Rego module evaluated against each
// candidate action and the currently-published constraint set
// (spec.md §4.6 step 2). It does not attempt general-purpose natural
// language matching: a candidate violates a constraint when the
// constraint's text mentions one of the action's affected resources
// and the constraint's severity is blocking or high. That relevance
// test runs in Go before the policy (matchedConstraints and
// affectsOverlap below), and the input document built in Violates
// carries only the matched constraints' text and severity; the policy
// itself only gates on severity, keeping the bundled module small and
// auditable.
const constraintPolicy = `
package arbitrator

default violates_blocking := false
default violates_high := false

violates_blocking if {
	some c in input.matched_constraints
	c.severity == "blocking"
}

violates_high if {
	some c in input.matched_constraints
	c.severity == "high"
}
`

// PolicyEvaluator evaluates constraintPolicy once per candidate
// action, against whichever constraints that action's Affects set
// overlaps.
type PolicyEvaluator struct {
	violatesBlocking *rego.PreparedEvalQuery
	violatesHigh     *rego.PreparedEvalQuery
}

// NewPolicyEvaluator compiles constraintPolicy once; reused across
// every candidate action in a single arbitration run.
func NewPolicyEvaluator(ctx context.Context) (*PolicyEvaluator, error) {
	blocking, err := rego.New(
		rego.Query("data.arbitrator.violates_blocking"),
		rego.Module("arbitrator.rego", constraintPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	high, err := rego.New(
		rego.Query("data.arbitrator.violates_high"),
		rego.Module("arbitrator.rego", constraintPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &PolicyEvaluator{violatesBlocking: &blocking, violatesHigh: &high}, nil
}

// Violates reports whether action violates a blocking- or
// high-severity constraint in published, and if so which constraints'
// text triggered it.
func (p *PolicyEvaluator) Violates(ctx context.Context, action CandidateAction, published []schema.BindingConstraint) (bool, []string, error) {
	matched := matchedConstraints(action, published)
	if len(matched) == 0 {
		return false, nil, nil
	}

	input := map[string]interface{}{"matched_constraints": matched}

	blockingHit, err := evalBool(ctx, p.violatesBlocking, input)
	if err != nil {
		return false, nil, err
	}
	highHit, err := evalBool(ctx, p.violatesHigh, input)
	if err != nil {
		return false, nil, err
	}
	if !blockingHit && !highHit {
		return false, nil, nil
	}

	texts := make([]string, 0, len(matched))
	for _, m := range matched {
		if sev := m["severity"]; sev == string(schema.SeverityBlocking) || sev == string(schema.SeverityHigh) {
			texts = append(texts, m["text"].(string))
		}
	}
	return true, texts, nil
}

func evalBool(ctx context.Context, q *rego.PreparedEvalQuery, input map[string]interface{}) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	v, _ := rs[0].Expressions[0].Value.(bool)
	return v, nil
}

// matchedConstraints narrows published down to the ones relevant to
// action: a constraint is relevant when its text mentions one of
// action's declared Affects resources, or when action declares no
// Affects at all (in which case every constraint is conservatively
// considered relevant, erring toward rejection rather than silently
// approving an unscoped action).
func matchedConstraints(action CandidateAction, published []schema.BindingConstraint) []map[string]interface{} {
	var matched []map[string]interface{}
	for _, c := range published {
		if len(action.Affects) == 0 || affectsOverlap(action.Affects, c.Text) {
			matched = append(matched, map[string]interface{}{
				"text":     c.Text,
				"severity": string(c.Severity),
			})
		}
	}
	return matched
}

func affectsOverlap(affects []string, constraintText string) bool {
	lower := strings.ToLower(constraintText)
	for _, a := range affects {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
