// Package schema defines the orchestrator's core data model: the
// payloads passed into agents, the responses agents produce, the
// collation of a phase's responses, binding constraints, and the
// arbitrator's scored scenarios. All types here are treated as
// immutable once handed into a Collation (see SPEC_FULL.md §3).
package schema

import "time"

// Phase identifies which of the two agent-invocation phases a payload or
// response belongs to. Arbitration is a third step, not a phase.
type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseRevision Phase = "revision"
)

// Severity classifies a BindingConstraint. Blocking severity
// additionally causes the orchestrator to terminate early (§4.7).
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities from most to least urgent, for sorting
// Constraint Registry query results.
var severityRank = map[Severity]int{
	SeverityBlocking: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// RankOf returns s's sort rank (lower is more urgent). Unknown
// severities sort last.
func RankOf(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// AtLeast reports whether s is at least as urgent as min (e.g.
// SeverityHigh.AtLeast(SeverityMedium) is true).
func (s Severity) AtLeast(min Severity) bool {
	return RankOf(s) <= RankOf(min)
}

// ResponseStatus is the terminal outcome of one agent invocation.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusTimeout ResponseStatus = "timeout"
	StatusError   ResponseStatus = "error"
)

// FlightInfo is the canonical flight identifier extracted from free-form
// prompt text. All three fields are required once accepted; FlightNumber
// is normalized (trimmed + uppercased) and Date is a resolved, concrete
// ISO-8601 calendar date (relative phrases like "today" must already be
// resolved by the time a FlightInfo is constructed).
type FlightInfo struct {
	FlightNumber    string `json:"flight_number" validate:"required,flightnumber"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	DisruptionEvent string `json:"disruption_event" validate:"required"`
}

// DisruptionPayload is the input handed to one agent invocation.
type DisruptionPayload struct {
	UserPrompt         string                    `json:"user_prompt" validate:"required"`
	Phase              Phase                     `json:"phase" validate:"required,oneof=initial revision"`
	PeerRecommendations map[string]AgentResponse `json:"peer_recommendations,omitempty"`
}

// Validate enforces the phase/peer-recommendations coupling invariant
// from SPEC_FULL.md §3: peer_recommendations is required when phase is
// revision and forbidden when phase is initial.
func (p DisruptionPayload) Validate() error {
	switch p.Phase {
	case PhaseRevision:
		if len(p.PeerRecommendations) == 0 {
			return errRevisionNeedsPeers
		}
	case PhaseInitial:
		if len(p.PeerRecommendations) != 0 {
			return errInitialForbidsPeers
		}
	}
	return nil
}

// AgentResponse is the immutable outcome of one agent invocation.
type AgentResponse struct {
	AgentName           string         `json:"agent_name"`
	Recommendation      string         `json:"recommendation,omitempty"`
	Confidence          float64        `json:"confidence"`
	BindingConstraints  []string       `json:"binding_constraints,omitempty"`
	Reasoning           string         `json:"reasoning,omitempty"`
	DataSources         []string       `json:"data_sources,omitempty"`
	ExtractedFlightInfo *FlightInfo    `json:"extracted_flight_info,omitempty"`
	Status              ResponseStatus `json:"status"`
	Duration            time.Duration  `json:"duration"`
	Error               string         `json:"error,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	Truncated           bool           `json:"truncated,omitempty"`
	FallbackEvents      []FallbackEvent `json:"fallback_events,omitempty"`
}

// Collation is the immutable record of every agent's terminal response
// for one phase.
type Collation struct {
	Phase     Phase                    `json:"phase"`
	Responses map[string]AgentResponse `json:"responses"`
	Timestamp time.Time                `json:"timestamp"`
	Duration  time.Duration            `json:"duration"`
}

// Successful returns the subset of responses with status=success.
func (c Collation) Successful() map[string]AgentResponse {
	return c.byStatus(StatusSuccess)
}

// Failed returns the subset of responses with status=error.
func (c Collation) Failed() map[string]AgentResponse {
	return c.byStatus(StatusError)
}

// TimedOut returns the subset of responses with status=timeout.
func (c Collation) TimedOut() map[string]AgentResponse {
	return c.byStatus(StatusTimeout)
}

func (c Collation) byStatus(status ResponseStatus) map[string]AgentResponse {
	out := make(map[string]AgentResponse)
	for id, r := range c.Responses {
		if r.Status == status {
			out[id] = r
		}
	}
	return out
}

// StatusCounts returns the number of responses in each terminal status.
func (c Collation) StatusCounts() map[ResponseStatus]int {
	counts := map[ResponseStatus]int{StatusSuccess: 0, StatusTimeout: 0, StatusError: 0}
	for _, r := range c.Responses {
		counts[r.Status]++
	}
	return counts
}

// BindingConstraint is a directive published by a safety agent that
// later phases and the arbitrator must respect.
type BindingConstraint struct {
	SourceAgent string    `json:"source_agent"`
	Text        string    `json:"text"`
	Severity    Severity  `json:"severity"`
	PublishedAt time.Time `json:"published_at"`
}

// ScoredScenario is one arbitrator-composed candidate decision.
type ScoredScenario struct {
	Actions             []string           `json:"actions"`
	ConstraintViolations []string          `json:"constraint_violations,omitempty"`
	PredictedMetrics    map[string]float64 `json:"predicted_metrics"`
	CompositeScore      float64            `json:"composite_score"`
	Rank                int                `json:"rank"`
	Rationale           string             `json:"rationale,omitempty"`
	IsFallback          bool               `json:"is_fallback,omitempty"`
	ExecutionRisk       float64            `json:"execution_risk,omitempty"`
	ContributingAgents  []string           `json:"contributing_agents,omitempty"`
}

// ToolDescriptor names one Data Fetcher operation an agent is
// authorized to invoke, as catalogued externally (SPEC_FULL.md §6.4).
type ToolDescriptor struct {
	Name             string `yaml:"name" json:"name"`
	FetcherOperation string `yaml:"fetcher_operation" json:"fetcher_operation"`
	ArgumentShape    string `yaml:"argument_shape,omitempty" json:"argument_shape,omitempty"`
}

// AgentDescriptor is one entry of the external agent prompt catalogue.
type AgentDescriptor struct {
	AgentID         string           `yaml:"agent_id" json:"agent_id"`
	SystemPrompt    string           `yaml:"system_prompt" json:"system_prompt"`
	IsSafetyAgent   bool             `yaml:"is_safety_agent" json:"is_safety_agent"`
	AuthorizedTools []ToolDescriptor `yaml:"authorized_tools" json:"authorized_tools"`
}

// FallbackEvent records one Model Gateway hop from a throttled model to
// the next candidate in its fallback chain.
type FallbackEvent struct {
	AgentID   string    `json:"agent_id,omitempty"`
	ModelID   string    `json:"model_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditStatus is the terminal status of a full orchestration run.
type AuditStatus string

const (
	StatusComplete              AuditStatus = "complete"
	StatusEarlyTerminationBlocked AuditStatus = "early_termination_blocked"
	StatusIncompleteTimeout      AuditStatus = "incomplete_timeout"
	StatusFailed                 AuditStatus = "failed"
)

// AuditTrail is the orchestrator's final, returned record.
type AuditTrail struct {
	RunID              string           `json:"run_id"`
	Timestamp          time.Time        `json:"timestamp"`
	Duration           time.Duration    `json:"duration"`
	Phase1             *Collation       `json:"phase1,omitempty"`
	Constraints        []BindingConstraint `json:"constraints,omitempty"`
	Phase2             *Collation       `json:"phase2,omitempty"`
	Scenarios          []ScoredScenario `json:"scenarios,omitempty"`
	TopScenario        *ScoredScenario  `json:"top_scenario,omitempty"`
	FallbackEvents     []FallbackEvent  `json:"fallback_events,omitempty"`
	Status             AuditStatus      `json:"status"`
	BlockedReason       string          `json:"blocked_reason,omitempty"`
}
