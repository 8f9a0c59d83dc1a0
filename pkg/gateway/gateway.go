package gateway

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/resilience"
	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// chainMetrics are the Model Gateway's observable metrics, recorded per
// provider attempt rather than per tool-call-loop iteration: error counts
// by the provider that failed and success counts by the provider that
// won the chain (calls), latency by provider attempted (latency), and
// fallback hops by source and target provider (hops).
type chainMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	hops    *prometheus.CounterVec
}

func newChainMetrics(registry prometheus.Registerer) *chainMetrics {
	m := &chainMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_gateway_calls_total",
			Help: "Model Gateway completions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "model_gateway_call_duration_seconds",
			Help:    "Model Gateway call latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		hops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_gateway_fallback_hops_total",
			Help: "Model Gateway fallback-chain hops by source provider.",
		}, []string{"from", "to"}),
	}
	if registry != nil {
		registry.MustRegister(m.calls, m.latency, m.hops)
	}
	return m
}

// Gateway is the Model Gateway: an ordered fallback chain over the
// four ModelProvider backends, each guarded by its own circuit breaker
// (SPEC_FULL.md §4.2).
type Gateway struct {
	providers []ModelProvider
	breakers  map[string]*resilience.Breaker
	metrics   *chainMetrics
	logger    *logrus.Logger
}

// Config configures the breakers shared by every provider in the
// chain.
type Config struct {
	BreakerFailureThreshold float64
	BreakerResetTimeout     time.Duration
	Registry                prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 0.5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
	return c
}

// New builds a Gateway over providers, tried in the given order
// (Anthropic primary, Bedrock secondary, Vertex AI tertiary, local
// quaternary per DESIGN.md).
func New(providers []ModelProvider, cfg Config, logger *logrus.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	breakers := make(map[string]*resilience.Breaker, len(providers))
	for _, p := range providers {
		breakers[p.ID()] = resilience.NewBreaker(p.ID(), cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout)
	}
	return &Gateway{
		providers: providers,
		breakers:  breakers,
		metrics:   newChainMetrics(cfg.Registry),
		logger:    logger,
	}
}

// Complete runs req through the fallback chain and returns the winning
// provider's completion, plus any FallbackEvents produced by hops taken
// along the way, for the orchestrator's audit trail.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (string, []schema.FallbackEvent, error) {
	steps := make([]resilience.FallbackStep[string], len(g.providers))
	for i, p := range g.providers {
		p := p
		steps[i] = resilience.FallbackStep[string]{
			ID:      p.ID(),
			Breaker: g.breakers[p.ID()],
			Attempt: func() (string, error) {
				return g.call(p.ID(), func() (string, error) {
					return p.Complete(ctx, req)
				})
			},
		}
	}
	return g.run(steps, "complete")
}

// Extract runs req through the fallback chain to produce a structured
// extraction, same hop/metric bookkeeping as Complete.
func (g *Gateway) Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, []schema.FallbackEvent, error) {
	steps := make([]resilience.FallbackStep[map[string]interface{}], len(g.providers))
	for i, p := range g.providers {
		p := p
		steps[i] = resilience.FallbackStep[map[string]interface{}]{
			ID:      p.ID(),
			Breaker: g.breakers[p.ID()],
			Attempt: func() (map[string]interface{}, error) {
				return g.callExtract(p.ID(), func() (map[string]interface{}, error) {
					return p.Extract(ctx, req)
				})
			},
		}
	}
	chain := resilience.NewChain(steps)
	result, winner, hops, err := chain.Run()
	g.recordHops(hops)
	if err != nil {
		g.logger.WithFields(logging.ModelFields("extract", "").ToLogrus()).Warn("model gateway: all providers exhausted")
		return nil, toFallbackEvents(hops), err
	}
	g.metrics.calls.WithLabelValues(winner, "success").Inc()
	return result, toFallbackEvents(hops), nil
}

// ToolCallLoop runs req through the fallback chain, trying the next
// provider only if the current one fails outright (a Truncated result
// is still a success from the chain's point of view — it is the
// calling agent's job to decide whether a truncated loop is usable).
func (g *Gateway) ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, []schema.FallbackEvent, error) {
	steps := make([]resilience.FallbackStep[ToolCallLoopResult], len(g.providers))
	for i, p := range g.providers {
		p := p
		steps[i] = resilience.FallbackStep[ToolCallLoopResult]{
			ID:      p.ID(),
			Breaker: g.breakers[p.ID()],
			Attempt: func() (ToolCallLoopResult, error) {
				return g.callLoop(p.ID(), func() (ToolCallLoopResult, error) {
					return p.ToolCallLoop(ctx, req)
				})
			},
		}
	}
	chain := resilience.NewChain(steps)
	result, winner, hops, err := chain.Run()
	g.recordHops(hops)
	if err != nil {
		g.logger.WithFields(logging.ModelFields("tool_call_loop", "").ToLogrus()).Warn("model gateway: all providers exhausted")
		return ToolCallLoopResult{}, toFallbackEvents(hops), err
	}
	g.metrics.calls.WithLabelValues(winner, "success").Inc()
	return result, toFallbackEvents(hops), nil
}

func (g *Gateway) run(steps []resilience.FallbackStep[string], operation string) (string, []schema.FallbackEvent, error) {
	chain := resilience.NewChain(steps)
	result, winner, hops, err := chain.Run()
	g.recordHops(hops)
	if err != nil {
		g.logger.WithFields(logging.ModelFields(operation, "").ToLogrus()).Warn("model gateway: all providers exhausted")
		return "", toFallbackEvents(hops), err
	}
	g.metrics.calls.WithLabelValues(winner, "success").Inc()
	return result, toFallbackEvents(hops), nil
}

func (g *Gateway) call(providerID string, fn func() (string, error)) (string, error) {
	start := time.Now()
	var out string
	attempted := false
	callErr := g.breakers[providerID].Call(func() error {
		attempted = true
		var err error
		out, err = fn()
		return err
	})
	g.metrics.latency.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if callErr != nil {
		g.metrics.calls.WithLabelValues(providerID, "error").Inc()
		callErr = classifyChainErr(providerID, callErr, attempted)
	}
	return out, callErr
}

func (g *Gateway) callExtract(providerID string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()
	var out map[string]interface{}
	attempted := false
	callErr := g.breakers[providerID].Call(func() error {
		attempted = true
		var err error
		out, err = fn()
		return err
	})
	g.metrics.latency.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if callErr != nil {
		g.metrics.calls.WithLabelValues(providerID, "error").Inc()
		callErr = classifyChainErr(providerID, callErr, attempted)
	}
	return out, callErr
}

func (g *Gateway) callLoop(providerID string, fn func() (ToolCallLoopResult, error)) (ToolCallLoopResult, error) {
	start := time.Now()
	var out ToolCallLoopResult
	attempted := false
	callErr := g.breakers[providerID].Call(func() error {
		attempted = true
		var err error
		out, err = fn()
		return err
	})
	g.metrics.latency.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if callErr != nil {
		g.metrics.calls.WithLabelValues(providerID, "error").Inc()
		callErr = classifyChainErr(providerID, callErr, attempted)
	}
	return out, callErr
}

// classifyChainErr reclassifies an open-breaker rejection as
// ErrorTypeThrottled so resilience.Chain.Run advances to the next
// candidate instead of propagating it: the breaker tripping is a local
// capacity decision about this candidate, not an upstream error the
// caller should see as non-retryable. attempted is false exactly when
// the breaker rejected the call before fn ever ran. A genuine provider
// error (attempted=true) is returned unchanged, already classified by
// the provider adapter itself.
func classifyChainErr(providerID string, err error, attempted bool) error {
	if attempted {
		return err
	}
	return apperrors.NewProviderThrottledError(providerID, err)
}

func (g *Gateway) recordHops(hops []resilience.HopEvent) {
	for _, h := range hops {
		g.metrics.hops.WithLabelValues(h.FromID, h.ToID).Inc()
	}
}

// toFallbackEvents translates resilience-layer hop bookkeeping into the
// audit trail's FallbackEvent shape. ModelID names the candidate that
// was abandoned; the candidate picked up next is implicit in the
// following event (or absent, if it won).
func toFallbackEvents(hops []resilience.HopEvent) []schema.FallbackEvent {
	now := time.Now()
	events := make([]schema.FallbackEvent, 0, len(hops))
	for _, h := range hops {
		events = append(events, schema.FallbackEvent{
			ModelID:   h.FromID,
			Reason:    h.Reason,
			Timestamp: now,
		})
	}
	return events
}
