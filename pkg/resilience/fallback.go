package resilience

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// FallbackStep is one attempt in an ordered fallback chain: a named
// candidate and the breaker guarding it.
type FallbackStep[T any] struct {
	ID      string
	Breaker *Breaker
	Attempt func() (T, error)
}

// HopEvent records one chain hop from a failed/throttled candidate to
// the next, independent of the domain-level FallbackEvent the Model
// Gateway assembles into the audit trail — this is the resilience
// layer's own bookkeeping.
type HopEvent struct {
	FromID string
	ToID   string
	Reason string
}

// Metrics tracks aggregate fallback-chain usage, mirroring the
// teacher's dependency-manager health report (total/successful/failed
// operation counts) re-scoped to "how often did we have to fall back".
type Metrics struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	FallbacksUsed   int64
}

// Chain runs an ordered list of candidates, each behind its own
// circuit breaker, returning the first success. Every candidate other
// than the last that fails with an ErrorTypeThrottled error produces a
// HopEvent describing the move to the next candidate.
type Chain[T any] struct {
	steps []FallbackStep[T]

	mu      sync.Mutex
	metrics Metrics
}

// NewChain builds a Chain over steps, tried in the given order.
func NewChain[T any](steps []FallbackStep[T]) *Chain[T] {
	return &Chain[T]{steps: steps}
}

// Run attempts each step in order, returning the first success, the
// hops taken along the way, and the winning step's ID. A candidate's
// error only moves the chain to the next step when it is
// ErrorTypeThrottled (rate limit/quota, or the candidate's own breaker
// rejecting the call outright); any other error propagates immediately
// without trying the remaining candidates. If every step throttles, Run
// returns an ErrorTypeThrottled AppError naming the last candidate
// tried.
func (c *Chain[T]) Run() (result T, winner string, hops []HopEvent, err error) {
	atomic.AddInt64(&c.metrics.TotalCalls, 1)

	var lastErr error
	var lastID string
	for i, step := range c.steps {
		lastID = step.ID
		out, callErr := step.Attempt()
		if callErr == nil {
			c.mu.Lock()
			c.metrics.SuccessfulCalls++
			if i > 0 {
				c.metrics.FallbacksUsed++
			}
			c.mu.Unlock()
			return out, step.ID, hops, nil
		}

		if !apperrors.IsType(callErr, apperrors.ErrorTypeThrottled) {
			c.mu.Lock()
			c.metrics.FailedCalls++
			c.mu.Unlock()
			var zero T
			return zero, "", hops, callErr
		}

		lastErr = callErr
		if i+1 < len(c.steps) {
			hops = append(hops, HopEvent{
				FromID: step.ID,
				ToID:   c.steps[i+1].ID,
				Reason: callErr.Error(),
			})
		}
	}

	c.mu.Lock()
	c.metrics.FailedCalls++
	c.mu.Unlock()

	var zero T
	return zero, "", hops, apperrors.NewThrottledError(lastID, lastErr)
}

// GetMetrics returns a snapshot of the chain's cumulative metrics.
func (c *Chain[T]) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
