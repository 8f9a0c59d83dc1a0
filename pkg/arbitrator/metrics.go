package arbitrator

import (
	"encoding/json"

	"github.com/itchyny/gojq"
)

// metricQueries names, for each predicted metric, a tolerant gojq
// lookup path: the model is asked for a flat object but sometimes
// nests its answer under a "metrics" key or wraps it in a one-element
// array, so each query tries the flat path first and falls back to
// the nested shape before giving up on that metric.
var metricQueries = map[string]*gojq.Query{
	"passenger_satisfaction": mustParseQuery(`(.passenger_satisfaction // .metrics.passenger_satisfaction // .[0].passenger_satisfaction)`),
	"cost_efficiency":        mustParseQuery(`(.cost_efficiency // .metrics.cost_efficiency // .[0].cost_efficiency)`),
	"delay_reduction":        mustParseQuery(`(.delay_reduction // .metrics.delay_reduction // .[0].delay_reduction)`),
	"execution_reliability":  mustParseQuery(`(.execution_reliability // .metrics.execution_reliability // .[0].execution_reliability)`),
}

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

// parseMetrics parses a Model Gateway completion answer expected to be
// a JSON object of metric name -> predicted value, tolerating the
// nested/wrapped shapes metricQueries accounts for rather than
// requiring an exact flat object. Any metric gojq can't resolve to a
// number is simply omitted.
func parseMetrics(answer string) (map[string]float64, bool) {
	var raw interface{}
	if err := json.Unmarshal([]byte(answer), &raw); err != nil {
		return nil, false
	}

	out := make(map[string]float64, len(metricQueries))
	for name, query := range metricQueries {
		if f, ok := runFloatQuery(query, raw); ok {
			out[name] = f
		}
	}
	return out, len(out) > 0
}

// runFloatQuery runs query against input and returns its first
// numeric result, if any.
func runFloatQuery(query *gojq.Query, input interface{}) (float64, bool) {
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return 0, false
		}
		if err, ok := v.(error); ok {
			if err != nil {
				return 0, false
			}
			continue
		}
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
}
