// Package phase implements the Phase Executor: run every agent of one
// phase concurrently under a per-agent and a whole-phase deadline, and
// collate their terminal responses (SPEC_FULL.md §4.4). Bounded
// parallelism is enforced with golang.org/x/sync/semaphore; the fan-out
// itself runs under golang.org/x/sync/errgroup, whose own error
// propagation is deliberately unused — a failing agent must never
// cancel its siblings, so every task recovers its own outcome into an
// AgentResponse and always returns nil to the group.
package phase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// Invoke runs one agent and returns its terminal AgentResponse. It must
// never panic past the Executor's recover boundary silently losing the
// agent-id; implementations that can panic are still captured, but a
// well-behaved Invoke reports failures as AgentResponse{status: error}.
type Invoke func(ctx context.Context, agentID string) schema.AgentResponse

// Config bounds one phase run.
type Config struct {
	PerAgentTimeout time.Duration
	PhaseTimeout    time.Duration
	MaxConcurrency  int
}

func (c Config) withDefaults() Config {
	if c.PerAgentTimeout <= 0 {
		c.PerAgentTimeout = 20 * time.Second
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = 45 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	return c
}

// Executor runs the N agents of one phase concurrently, bounded by
// Config, and collates their responses.
type Executor struct {
	cfg    Config
	logger *logrus.Logger
}

// New builds an Executor.
func New(cfg Config, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{cfg: cfg.withDefaults(), logger: logger}
}

// Run fans out invoke across agentIDs, all starting concurrently
// (subject to MaxConcurrency), and returns a Collation once every agent
// has reached a terminal AgentResponse.
func (e *Executor) Run(ctx context.Context, ph schema.Phase, agentIDs []string, invoke Invoke) schema.Collation {
	start := time.Now()

	phaseCtx, cancel := context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))

	var (
		mu        sync.Mutex
		responses = make(map[string]schema.AgentResponse, len(agentIDs))
	)

	g, _ := errgroup.WithContext(phaseCtx)
	for _, id := range agentIDs {
		id := id
		g.Go(func() error {
			if err := sem.Acquire(phaseCtx, 1); err != nil {
				// The phase deadline (or parent cancellation) elapsed
				// before this agent ever got a chance to run.
				mu.Lock()
				responses[id] = e.timeoutResponse(id, start, e.cfg.PhaseTimeout)
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)

			resp := e.runOne(phaseCtx, id, invoke)
			mu.Lock()
			responses[id] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return schema.Collation{
		Phase:     ph,
		Responses: responses,
		Timestamp: start,
		Duration:  time.Since(start),
	}
}

// runOne enforces the per-agent deadline around a single invoke call.
// Cancellation is best-effort: once agentCtx expires, runOne returns a
// status=timeout response immediately without waiting for invoke to
// actually unwind; invoke's eventual real result (if it arrives later)
// is simply discarded into the buffered result channel and never read,
// so a cancelled agent's response can never later mutate the Collation
// (SPEC_FULL.md §4.4's cancellation-semantics invariant).
func (e *Executor) runOne(ctx context.Context, agentID string, invoke Invoke) schema.AgentResponse {
	taskStart := time.Now()
	agentCtx, cancel := context.WithTimeout(ctx, e.cfg.PerAgentTimeout)
	defer cancel()

	resultCh := make(chan schema.AgentResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- e.panicResponse(agentID, taskStart, r)
			}
		}()
		resultCh <- invoke(agentCtx, agentID)
	}()

	select {
	case resp := <-resultCh:
		return resp
	case <-agentCtx.Done():
		e.logger.WithFields(logging.AgentFields("timeout", agentID).ToLogrus()).
			Warn("phase executor: agent exceeded its deadline, recording status=timeout")
		return e.timeoutResponse(agentID, taskStart, e.cfg.PerAgentTimeout)
	}
}

func (e *Executor) timeoutResponse(agentID string, taskStart time.Time, deadline time.Duration) schema.AgentResponse {
	return schema.AgentResponse{
		AgentName: agentID,
		Status:    schema.StatusTimeout,
		Error:     fmt.Sprintf("agent %s did not complete within its %s deadline", agentID, deadline),
		Duration:  time.Since(taskStart),
		Timestamp: time.Now(),
	}
}

func (e *Executor) panicResponse(agentID string, taskStart time.Time, recovered interface{}) schema.AgentResponse {
	e.logger.WithFields(logging.AgentFields("panic", agentID).ToLogrus()).
		WithField("panic", fmt.Sprintf("%v", recovered)).Error("phase executor: agent task panicked")
	return schema.AgentResponse{
		AgentName: agentID,
		Status:    schema.StatusError,
		Error:     fmt.Sprintf("agent %s panicked: %v", agentID, recovered),
		Duration:  time.Since(taskStart),
		Timestamp: time.Now(),
	}
}
