// Package arbitrator implements spec.md §4.6: turn a phase-2 Collation
// plus the Constraint Registry into a ranked set of decision
// scenarios.
package arbitrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/pkg/gateway"
	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/scoring"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// Arbitrator runs the ranking pipeline described in spec.md §4.6.
type Arbitrator struct {
	gw       *gateway.Gateway
	scorer   *scoring.Scorer
	policy   *PolicyEvaluator
	logger   *logrus.Logger
}

// New builds an Arbitrator. policy is produced once via
// NewPolicyEvaluator and reused across runs, since compiling the
// bundled Rego module is the only non-trivial cost in this package.
func New(gw *gateway.Gateway, scorer *scoring.Scorer, policy *PolicyEvaluator, logger *logrus.Logger) *Arbitrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Arbitrator{gw: gw, scorer: scorer, policy: policy, logger: logger}
}

// Run executes steps 1-6 of spec.md §4.6 against phase2 and
// constraintsPublished, seeded with originalPrompt for step 4's
// outcome-metric prediction. It returns the ranked scenarios (rank 1
// first) plus the FallbackEvents produced by the Model Gateway calls it
// made along the way.
func (a *Arbitrator) Run(ctx context.Context, phase2 schema.Collation, constraintsPublished []schema.BindingConstraint, originalPrompt string) ([]schema.ScoredScenario, []schema.FallbackEvent) {
	candidates, candidateFallbacks := gatherCandidates(ctx, a.gw, phase2)

	surviving, rejectedViolations := a.filterConstraintViolations(ctx, candidates, constraintsPublished)

	var groups [][]CandidateAction
	var fallback bool
	if len(surviving) == 0 {
		groups = [][]CandidateAction{conservativeBaseline()}
		fallback = true
	} else {
		groups = composeScenarios(surviving)
	}

	fallbacks := candidateFallbacks
	scenarios := make([]schema.ScoredScenario, 0, len(groups))
	for _, actions := range groups {
		metrics, metricFallbacks := a.predictMetrics(ctx, actions, originalPrompt)
		fallbacks = append(fallbacks, metricFallbacks...)
		scenarios = append(scenarios, schema.ScoredScenario{
			Actions:             describeActions(actions),
			ConstraintViolations: rejectedViolations,
			PredictedMetrics:    metrics,
			CompositeScore:      a.scorer.Score(metrics),
			Rationale:           scenarioRationale(actions, rejectedViolations),
			IsFallback:          fallback,
			ExecutionRisk:       maxExecutionRisk(actions),
			ContributingAgents:  contributingAgents(actions),
		})
	}

	rankScenarios(scenarios)
	return scenarios, fallbacks
}

// filterConstraintViolations implements step 2: reject any candidate
// violating a blocking- or high-severity constraint.
func (a *Arbitrator) filterConstraintViolations(ctx context.Context, candidates []CandidateAction, published []schema.BindingConstraint) ([]CandidateAction, []string) {
	if a.policy == nil {
		return candidates, nil
	}

	var surviving []CandidateAction
	var violations []string
	for _, action := range candidates {
		violates, texts, err := a.policy.Violates(ctx, action, published)
		if err != nil {
			a.logger.WithFields(logging.NewFields().Component("arbitrator").ToLogrus()).
				WithField("action", action.ID).Warn("arbitrator: constraint policy evaluation failed, rejecting conservatively")
			violations = append(violations, texts...)
			continue
		}
		if violates {
			violations = append(violations, texts...)
			continue
		}
		surviving = append(surviving, action)
	}
	return surviving, violations
}

// predictMetrics implements step 4: seed the Model Gateway's complete
// primitive with the scenario and the original prompt, then parse its
// JSON-object answer into metric name -> predicted value. A
// non-JSON or unparseable answer degrades to all-zero metrics rather
// than aborting the whole scenario, mirroring the Agent Runtime's
// degraded-parse fallback (pkg/agent).
func (a *Arbitrator) predictMetrics(ctx context.Context, actions []CandidateAction, originalPrompt string) (map[string]float64, []schema.FallbackEvent) {
	zero := map[string]float64{
		scoring.MetricPassengerSatisfaction: 0,
		scoring.MetricCostEfficiency:        0,
		scoring.MetricDelayReduction:        0,
		scoring.MetricExecutionReliability:  0,
	}
	if a.gw == nil {
		return zero, nil
	}

	prompt := fmt.Sprintf(
		"Original request: %s\n\nProposed scenario actions:\n%s\n\nPredict outcome metrics for this scenario.",
		originalPrompt, fmt.Sprint(describeActions(actions)),
	)

	answer, fallbacks, err := a.gw.Complete(ctx, gateway.CompletionRequest{
		SystemPrompt: "You predict numeric outcome metrics (0.0-1.0) for a proposed flight-disruption recovery scenario: passenger_satisfaction, cost_efficiency, delay_reduction, execution_reliability. Respond with a single JSON object of those four keys to numbers, nothing else.",
		UserPrompt:   prompt,
		MaxTokens:    256,
	})
	if err != nil {
		return zero, fallbacks
	}

	parsed, ok := parseMetrics(answer)
	if !ok {
		return zero, fallbacks
	}
	return parsed, fallbacks
}

// rankScenarios applies spec.md §4.6 step 6's tie-break order: score
// descending, then fewer actions, then lower execution risk, then
// lexicographic agent-id ordering of contributing proposals. Rank is
// assigned 1-based after sorting.
func rankScenarios(scenarios []schema.ScoredScenario) {
	sort.SliceStable(scenarios, func(i, j int) bool {
		a, b := scenarios[i], scenarios[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if len(a.Actions) != len(b.Actions) {
			return len(a.Actions) < len(b.Actions)
		}
		if a.ExecutionRisk != b.ExecutionRisk {
			return a.ExecutionRisk < b.ExecutionRisk
		}
		return lexicographicLess(a.ContributingAgents, b.ContributingAgents)
	})
	for i := range scenarios {
		scenarios[i].Rank = i + 1
	}
}

func lexicographicLess(a, b []string) bool {
	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	for i := 0; i < len(sortedA) && i < len(sortedB); i++ {
		if sortedA[i] != sortedB[i] {
			return sortedA[i] < sortedB[i]
		}
	}
	return len(sortedA) < len(sortedB)
}
