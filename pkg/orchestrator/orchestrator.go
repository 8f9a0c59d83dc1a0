// Package orchestrator implements the end-to-end controller (spec.md
// §4.7): run Phase 1, gate on the Constraint Registry, run Phase 2,
// arbitrate, and assemble the final audit trail. It is the one package
// that composes every other core package into a single entry point,
// mirroring the teacher's cmd/ai-service wiring but kept importable as
// a library function rather than tied to any HTTP transport.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/pkg/agent"
	"github.com/disruption-ops/orchestrator/pkg/arbitrator"
	"github.com/disruption-ops/orchestrator/pkg/catalogue"
	"github.com/disruption-ops/orchestrator/pkg/constraints"
	"github.com/disruption-ops/orchestrator/pkg/phase"
	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// Config bounds one orchestration run end to end.
type Config struct {
	GlobalTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = 120 * time.Second
	}
	return c
}

// Orchestrator wires the Agent Runtime, two Phase Executors, the
// Constraint Registry, and the Arbitrator into spec.md §4.7's
// sequence.
type Orchestrator struct {
	cfg        Config
	catalogue  *catalogue.Catalogue
	runtime    *agent.Runtime
	phase1     *phase.Executor
	phase2     *phase.Executor
	arbitrator *arbitrator.Arbitrator
	logger     *logrus.Logger

	// newRunID and now are overridable for deterministic tests.
	newRunID func() string
	now      func() time.Time
}

// New builds an Orchestrator over already-constructed dependencies.
// Wiring concrete adapters (Redis client, LLM providers, HTTP front
// door) is the caller's responsibility — this package only sequences
// the core engine.
func New(cfg Config, cat *catalogue.Catalogue, runtime *agent.Runtime, phase1, phase2 *phase.Executor, arb *arbitrator.Arbitrator, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		catalogue:  cat,
		runtime:    runtime,
		phase1:     phase1,
		phase2:     phase2,
		arbitrator: arb,
		logger:     logger,
		newRunID:   func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// Run executes spec.md §4.7's full sequence against userPrompt and
// returns the final audit trail. It never panics and never returns an
// error: every failure mode surfaces as a field in the returned
// AuditTrail, mirroring the Agent Runtime's "always emit a terminal
// result" contract one level up.
func (o *Orchestrator) Run(ctx context.Context, userPrompt string) schema.AuditTrail {
	start := o.now()
	runID := o.newRunID()

	globalCtx, cancel := context.WithTimeout(ctx, o.cfg.GlobalTimeout)
	defer cancel()

	logFields := logging.NewFields().Component("orchestrator").RunID(runID)
	o.logger.WithFields(logFields.ToLogrus()).Info("orchestrator: starting run")

	agentIDs := o.catalogue.AgentIDs()

	phase1Collation := o.phase1.Run(globalCtx, schema.PhaseInitial, agentIDs, func(ctx context.Context, agentID string) schema.AgentResponse {
		return o.runtime.Run(ctx, agentID, schema.DisruptionPayload{
			UserPrompt: userPrompt,
			Phase:      schema.PhaseInitial,
		}, nil, nil)
	})

	registry := constraints.New(o.catalogue)
	for _, agentID := range o.catalogue.SafetyAgentIDs() {
		resp, ok := phase1Collation.Responses[agentID]
		if !ok || resp.Status != schema.StatusSuccess || len(resp.BindingConstraints) == 0 {
			continue
		}
		if err := registry.Publish(agentID, resp.BindingConstraints); err != nil {
			o.logger.WithFields(logFields.ToLogrus()).WithField("safety_agent", agentID).
				Warn("orchestrator: failed to publish safety agent's binding constraints")
		}
	}
	published := registry.All()

	if registry.AnyBlocking() {
		return o.earlyTermination(runID, start, phase1Collation, published)
	}

	if globalCtx.Err() != nil {
		return o.incompleteTimeout(runID, start, &phase1Collation, published, nil, nil)
	}

	phase2Collation := o.phase2.Run(globalCtx, schema.PhaseRevision, agentIDs, func(ctx context.Context, agentID string) schema.AgentResponse {
		return o.runtime.Run(ctx, agentID, schema.DisruptionPayload{
			UserPrompt:          userPrompt,
			Phase:               schema.PhaseRevision,
			PeerRecommendations: phase1Collation.Responses,
		}, &phase1Collation, published)
	})

	var scenarios []schema.ScoredScenario
	var arbitratorFallbacks []schema.FallbackEvent
	if o.arbitrator != nil {
		scenarios, arbitratorFallbacks = o.arbitrator.Run(globalCtx, phase2Collation, published, userPrompt)
	}

	status := schema.StatusComplete
	var blockedReason string
	if globalCtx.Err() != nil {
		status = schema.StatusIncompleteTimeout
		blockedReason = "global timeout elapsed before the run completed"
	}

	var top *schema.ScoredScenario
	if len(scenarios) > 0 {
		top = &scenarios[0]
	}

	fallbackEvents := collationFallbacks(phase1Collation)
	fallbackEvents = append(fallbackEvents, collationFallbacks(phase2Collation)...)
	fallbackEvents = append(fallbackEvents, arbitratorFallbacks...)

	return schema.AuditTrail{
		RunID:          runID,
		Timestamp:      start,
		Duration:       o.now().Sub(start),
		Phase1:         &phase1Collation,
		Constraints:    published,
		Phase2:         &phase2Collation,
		Scenarios:      scenarios,
		TopScenario:    top,
		FallbackEvents: fallbackEvents,
		Status:         status,
		BlockedReason:  blockedReason,
	}
}

// collationFallbacks flattens the FallbackEvents every agent in a
// Collation recorded during its own Model Gateway calls onto one slice
// for the run's audit trail.
func collationFallbacks(c schema.Collation) []schema.FallbackEvent {
	var out []schema.FallbackEvent
	for _, resp := range c.Responses {
		out = append(out, resp.FallbackEvents...)
	}
	return out
}

// earlyTermination builds the audit trail for spec.md §4.7 step 4:
// at least one blocking constraint was published, so phase 2 and
// arbitration are skipped outright.
func (o *Orchestrator) earlyTermination(runID string, start time.Time, phase1 schema.Collation, published []schema.BindingConstraint) schema.AuditTrail {
	var blockingTexts []string
	for _, c := range published {
		if c.Severity == schema.SeverityBlocking {
			blockingTexts = append(blockingTexts, fmt.Sprintf("%s: %s", c.SourceAgent, c.Text))
		}
	}
	return schema.AuditTrail{
		RunID:          runID,
		Timestamp:      start,
		Duration:       o.now().Sub(start),
		Phase1:         &phase1,
		Constraints:    published,
		Status:         schema.StatusEarlyTerminationBlocked,
		BlockedReason:  fmt.Sprintf("blocking constraint(s) published in phase 1: %v", blockingTexts),
		FallbackEvents: collationFallbacks(phase1),
	}
}

// incompleteTimeout builds the partial audit trail for spec.md §4.7's
// global-timeout clause when the deadline elapsed before phase 2
// started. A deadline that elapses later is recorded by Run itself with
// the same status and reason.
func (o *Orchestrator) incompleteTimeout(runID string, start time.Time, phase1 *schema.Collation, published []schema.BindingConstraint, phase2 *schema.Collation, scenarios []schema.ScoredScenario) schema.AuditTrail {
	var fallbackEvents []schema.FallbackEvent
	if phase1 != nil {
		fallbackEvents = append(fallbackEvents, collationFallbacks(*phase1)...)
	}
	if phase2 != nil {
		fallbackEvents = append(fallbackEvents, collationFallbacks(*phase2)...)
	}
	return schema.AuditTrail{
		RunID:          runID,
		Timestamp:      start,
		Duration:       o.now().Sub(start),
		Phase1:         phase1,
		Constraints:    published,
		Phase2:         phase2,
		Scenarios:      scenarios,
		Status:         schema.StatusIncompleteTimeout,
		BlockedReason:  "global timeout elapsed before the run completed",
		FallbackEvents: fallbackEvents,
	}
}
