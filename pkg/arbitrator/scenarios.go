package arbitrator

import (
	"fmt"
	"sort"
)

// conflicts reports whether two candidate actions may not coexist in
// the same scenario: they conflict when their declared Affects sets
// share a resource (spec.md §4.6 step 3, e.g. two actions both
// reassigning the same aircraft). Actions that declare no Affects set
// never conflict with anything.
func conflicts(a, b CandidateAction) bool {
	if len(a.Affects) == 0 || len(b.Affects) == 0 {
		return false
	}
	seen := make(map[string]bool, len(a.Affects))
	for _, r := range a.Affects {
		seen[r] = true
	}
	for _, r := range b.Affects {
		if seen[r] {
			return true
		}
	}
	return false
}

// composeScenarios builds one maximal conflict-free subset of actions
// per seed, via a greedy construction seeded at each action in turn
// (so not every maximal subset is necessarily produced):
// starting from action i, actions are added in order as long as they
// do not conflict with anything already in the subset. Duplicate
// resulting subsets (by member ID set) are discarded. This mirrors the
// teacher's validator-registry shape of a fixed set of named
// composability checks run per candidate (here, a single "affects
// overlap" check) rather than an exhaustive power-set search, which
// is unnecessary for the small per-phase action counts this system
// produces.
func composeScenarios(actions []CandidateAction) [][]CandidateAction {
	if len(actions) == 0 {
		return nil
	}

	var scenarios [][]CandidateAction
	seen := make(map[string]bool)

	for start := range actions {
		subset := []CandidateAction{actions[start]}
		for i := range actions {
			if i == start {
				continue
			}
			candidate := actions[i]
			conflictsWithSubset := false
			for _, member := range subset {
				if conflicts(member, candidate) {
					conflictsWithSubset = true
					break
				}
			}
			if !conflictsWithSubset {
				subset = append(subset, candidate)
			}
		}
		key := scenarioKey(subset)
		if !seen[key] {
			seen[key] = true
			scenarios = append(scenarios, subset)
		}
	}
	return scenarios
}

// scenarioKey identifies a scenario by its member-action-ID set,
// independent of construction order, so two scenarios built by
// starting from different seed actions but ending up with the same
// members are recognized as duplicates.
func scenarioKey(actions []CandidateAction) string {
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	key := ""
	for _, id := range ids {
		key += id + ","
	}
	return key
}

// conservativeBaseline synthesizes the fallback scenario required by
// spec.md §4.6 step 7 when every candidate action is rejected in step
// 2: cancel the disrupted flight and protect passengers rather than
// attempt any of the rejected actions.
func conservativeBaseline() []CandidateAction {
	return []CandidateAction{
		{
			ID:            "fallback-conservative-baseline",
			SourceAgent:   "arbitrator",
			Description:   "cancel the affected flight and prioritize full passenger protection (rebooking, accommodation, compensation) pending manual review",
			Affects:       nil,
			ExecutionRisk: 0.0,
		},
	}
}

func describeActions(actions []CandidateAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Description)
	}
	return out
}

func contributingAgents(actions []CandidateAction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range actions {
		if !seen[a.SourceAgent] {
			seen[a.SourceAgent] = true
			out = append(out, a.SourceAgent)
		}
	}
	return out
}

func maxExecutionRisk(actions []CandidateAction) float64 {
	var max float64
	for _, a := range actions {
		if a.ExecutionRisk > max {
			max = a.ExecutionRisk
		}
	}
	return max
}

func scenarioRationale(actions []CandidateAction, violations []string) string {
	if len(actions) == 0 {
		return "no candidate actions survived constraint filtering"
	}
	r := fmt.Sprintf("composed from %d non-conflicting candidate action(s)", len(actions))
	if len(violations) > 0 {
		r += fmt.Sprintf("; excludes actions violating: %v", violations)
	}
	return r
}
