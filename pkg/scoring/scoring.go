// Package scoring implements the Arbitrator's fixed weighted-sum score
// over a scenario's predicted outcome metrics (spec.md §4.6 step 5).
package scoring

import (
	"github.com/disruption-ops/orchestrator/internal/config"
)

// Metric names as predicted by the Model Gateway's complete primitive
// (SPEC_FULL.md §4.6 step 4) and scored here. Every metric is expected
// normalized to [0,1]; Score clamps the composite regardless.
const (
	MetricPassengerSatisfaction = "passenger_satisfaction"
	MetricCostEfficiency        = "cost_efficiency"
	MetricDelayReduction        = "delay_reduction"
	MetricExecutionReliability  = "execution_reliability"
)

// DefaultWeights mirrors the illustrative weights named in spec.md
// §4.6 step 5, used whenever configuration supplies a zero-valued
// config.ScoringConfig.
var DefaultWeights = map[string]float64{
	MetricPassengerSatisfaction: 0.30,
	MetricCostEfficiency:        0.25,
	MetricDelayReduction:        0.25,
	MetricExecutionReliability:  0.20,
}

// Scorer holds a fixed, named weight per metric, keyed the same way
// config.ScoringConfig declares them. GetWeight returns 0.0 for any
// metric name it was not configured with, so an unrecognized or
// misspelled predicted-metric key contributes nothing rather than
// panicking.
type Scorer struct {
	weights map[string]float64
}

// New builds a Scorer from cfg. A zero-valued cfg (every field 0.0)
// falls back to DefaultWeights.
func New(cfg config.ScoringConfig) *Scorer {
	weights := map[string]float64{
		MetricPassengerSatisfaction: cfg.PassengerSatisfaction,
		MetricCostEfficiency:        cfg.CostEfficiency,
		MetricDelayReduction:        cfg.DelayReduction,
		MetricExecutionReliability:  cfg.ExecutionReliability,
	}
	if cfg == (config.ScoringConfig{}) {
		weights = DefaultWeights
	}
	return &Scorer{weights: weights}
}

// GetWeight returns the configured weight for metric, or 0.0 if metric
// is not one this Scorer was configured with.
func (s *Scorer) GetWeight(metric string) float64 {
	return s.weights[metric]
}

// Score computes the weighted sum of predictedMetrics against the
// Scorer's configured weights, clamped to [0,1]. Metrics present in
// predictedMetrics but not in the Scorer's weight table contribute
// nothing; metrics in the weight table but absent from
// predictedMetrics are treated as 0.0.
func (s *Scorer) Score(predictedMetrics map[string]float64) float64 {
	var total float64
	for metric, weight := range s.weights {
		total += weight * predictedMetrics[metric]
	}
	if total < 0 {
		return 0
	}
	if total > 1 {
		return 1
	}
	return total
}
