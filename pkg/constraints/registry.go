// Package constraints implements the Constraint Registry: the single
// mutable object shared across phases (SPEC_FULL.md §4.5). Phase 1
// safety agents publish binding constraints; Phase 2 agents and the
// Arbitrator query them. Constraints are additive and immutable — once
// published, a constraint can never be retracted, downgraded, or
// reordered.
package constraints

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/schema"
)

// severityPrefixes maps a leading, case-insensitive token to the
// severity it declares. An agent tags severity by prefixing its
// constraint text with one of these tokens followed by a colon;
// untagged text defaults to medium.
var severityPrefixes = []struct {
	prefix   string
	severity schema.Severity
}{
	{"BLOCKING:", schema.SeverityBlocking},
	{"HIGH:", schema.SeverityHigh},
	{"MEDIUM:", schema.SeverityMedium},
	{"LOW:", schema.SeverityLow},
}

// classify derives a constraint's Severity from a leading-token
// convention in its text, defaulting to medium when no recognized
// token is present.
func classify(text string) schema.Severity {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	for _, p := range severityPrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return p.severity
		}
	}
	return schema.SeverityMedium
}

// SafetyAgentChecker looks up an agent's descriptor, from which the
// Registry tells whether agentID is flagged as a safety agent in the
// catalogue. It is satisfied by *catalogue.Catalogue without an
// import-cycle-prone direct dependency.
type SafetyAgentChecker interface {
	Get(agentID string) (schema.AgentDescriptor, bool)
}

// Registry is the Constraint Registry. It is safe for concurrent use;
// in practice writes are confined to Phase 1 and reads only begin
// after Phase 1 completes (SPEC_FULL.md §5's single publication
// barrier), so the mutex below is a safety net rather than a hot path.
type Registry struct {
	mu          sync.RWMutex
	constraints []schema.BindingConstraint
	published   map[string]map[string]bool // agent-id -> text -> seen, for idempotent republish
	catalogue   SafetyAgentChecker

	// Now is consulted for PublishedAt timestamps; a nil Now defaults
	// to time.Now and tests may override it for deterministic ordering
	// assertions.
	Now func() time.Time
}

// New builds an empty Registry. catalogue is consulted on every
// Publish to reject submissions from non-safety agents.
func New(catalogue SafetyAgentChecker) *Registry {
	return &Registry{
		published: make(map[string]map[string]bool),
		catalogue: catalogue,
		Now:       time.Now,
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Publish appends constraints on behalf of agentID. It is idempotent:
// republishing identical text from the same agent is a no-op rather
// than a duplicate entry. Publication by a non-safety agent, or by an
// unknown agent-id, is rejected.
func (r *Registry) Publish(agentID string, texts []string) error {
	desc, ok := r.catalogue.Get(agentID)
	if !ok {
		return apperrors.New(apperrors.ErrorTypeFatal, "constraints: unknown agent_id "+agentID)
	}
	if !desc.IsSafetyAgent {
		return apperrors.NewValidationError("constraints: agent " + agentID + " is not a safety agent and may not publish binding constraints")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.published[agentID]
	if !ok {
		seen = make(map[string]bool)
		r.published[agentID] = seen
	}

	for _, text := range texts {
		if seen[text] {
			continue
		}
		seen[text] = true
		r.constraints = append(r.constraints, schema.BindingConstraint{
			SourceAgent: agentID,
			Text:        text,
			Severity:    classify(text),
			PublishedAt: r.now(),
		})
	}
	return nil
}

// Query returns every published constraint whose severity meets or
// exceeds minSeverity, ordered by severity (blocking first) and, among
// constraints of equal severity, by publication order.
func (r *Registry) Query(minSeverity schema.Severity) []schema.BindingConstraint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]schema.BindingConstraint, 0, len(r.constraints))
	for _, c := range r.constraints {
		if c.Severity.AtLeast(minSeverity) {
			matched = append(matched, c)
		}
	}

	// Publication order is already preserved by append order in
	// Publish; a stable sort on severity rank alone keeps that
	// secondary order intact for constraints that tie.
	stableSortBySeverity(matched)
	return matched
}

// AnyBlocking reports whether at least one published constraint has
// severity blocking.
func (r *Registry) AnyBlocking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.constraints {
		if c.Severity == schema.SeverityBlocking {
			return true
		}
	}
	return false
}

// All returns every published constraint in publication order, for
// audit trail assembly.
func (r *Registry) All() []schema.BindingConstraint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.BindingConstraint, len(r.constraints))
	copy(out, r.constraints)
	return out
}

func stableSortBySeverity(cs []schema.BindingConstraint) {
	// Insertion sort: the slice is small (bounded by the number of
	// safety-agent constraints in one run) and insertion sort is
	// naturally stable, preserving publication order within a
	// severity band without pulling in sort.Slice's reflection-based
	// comparator overhead.
	for i := 1; i < len(cs); i++ {
		j := i
		for j > 0 && schema.RankOf(cs[j].Severity) < schema.RankOf(cs[j-1].Severity) {
			cs[j], cs[j-1] = cs[j-1], cs[j]
			j--
		}
	}
}
