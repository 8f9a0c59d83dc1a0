// Package resilience wraps the circuit-breaker and ordered-fallback
// primitives the Model Gateway and Data Fetcher use to survive a flaky
// upstream model provider or store connection (SPEC_FULL.md §4.2/§4.3).
package resilience

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// CircuitState mirrors gobreaker's three states under names this
// module's callers already expect from the teacher's own circuit
// breaker (closed/open/half-open).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

func fromGobreakerState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// minRequestsToTrip is the minimum sample size gobreaker's ReadyToTrip
// callback requires before a failure ratio is trusted; a single failure
// out of one request must never open the circuit.
const minRequestsToTrip = 5

// Breaker wraps a named sony/gobreaker.CircuitBreaker configured by a
// failure-ratio threshold rather than gobreaker's default
// consecutive-failure count, matching how the Model Gateway and Data
// Fetcher reason about provider/store health.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker builds a Breaker named name that opens once at least
// minRequestsToTrip calls have been observed and the failure ratio over
// the current rolling window reaches failureThreshold (0.0-1.0). It
// stays open for resetTimeout before allowing one half-open probe.
func NewBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequestsToTrip {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= failureThreshold
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call executes fn through the breaker. When the breaker is open, fn is
// never invoked and a transient AppError is returned immediately.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.Wrapf(err, apperrors.ErrorTypeTransient, "circuit breaker %q is open", b.name)
	}
	return err
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker's current state.
func (b *Breaker) State() CircuitState {
	return fromGobreakerState(b.cb.State())
}

// Counts exposes the breaker's current rolling-window counters, mainly
// for audit-trail and metrics reporting.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) String() string {
	return fmt.Sprintf("breaker(%s, state=%s)", b.name, b.State())
}
