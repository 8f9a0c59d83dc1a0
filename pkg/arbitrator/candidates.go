package arbitrator

import (
	"context"
	"fmt"

	"github.com/disruption-ops/orchestrator/pkg/gateway"
	"github.com/disruption-ops/orchestrator/pkg/schema"
)

// CandidateAction is one concrete action mentioned in a successful
// AgentResponse's recommendation, pulled out via the Model Gateway's
// extract primitive against proposalSchema (spec.md §4.6 step 1).
type CandidateAction struct {
	ID            string
	SourceAgent   string
	Description   string
	Affects       []string
	ExecutionRisk float64
}

// proposalSchema constrains extraction to a list of candidate actions,
// each naming the resources it affects (for step 3's conflict
// detection) and a declared execution risk in [0,1].
var proposalSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"actions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description":    map[string]interface{}{"type": "string"},
					"affects":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"execution_risk": map[string]interface{}{"type": "number"},
				},
				"required": []string{"description"},
			},
		},
	},
	"required": []string{"actions"},
}

// gatherCandidates extracts every candidate action mentioned across
// collation's successful responses. An agent whose recommendation
// yields no extractable actions simply contributes none; extraction
// failure for one agent never aborts the others.
func gatherCandidates(ctx context.Context, gw *gateway.Gateway, collation schema.Collation) ([]CandidateAction, []schema.FallbackEvent) {
	var candidates []CandidateAction
	var fallbacks []schema.FallbackEvent
	seq := 0
	for agentID, resp := range collation.Successful() {
		extracted, hops, err := gw.Extract(ctx, gateway.ExtractRequest{
			Prompt: resp.Recommendation,
			Schema: proposalSchema,
		})
		fallbacks = append(fallbacks, hops...)
		if err != nil {
			continue
		}
		actions, _ := extracted["actions"].([]interface{})
		for _, raw := range actions {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			desc, _ := m["description"].(string)
			if desc == "" {
				continue
			}
			seq++
			candidates = append(candidates, CandidateAction{
				ID:            fmt.Sprintf("action-%d", seq),
				SourceAgent:   agentID,
				Description:   desc,
				Affects:       toStringSlice(m["affects"]),
				ExecutionRisk: toFloat(m["execution_risk"]),
			})
		}
	}
	return candidates, fallbacks
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
