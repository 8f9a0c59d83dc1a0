// Package agent implements the Agent Runtime: execute one catalogued
// agent in one phase against a DisruptionPayload and produce an
// AgentResponse (SPEC_FULL.md §4.3). It owns prompt assembly, FlightInfo
// extraction, tool-call authorization/dispatch against the Data
// Fetcher, and the success/timeout/error/truncated outcome mapping.
// Retries belong to the Model Gateway, not here — a failed agent is a
// first-class AgentResponse, never a panic or a bubbled error.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/internal/validation"
	"github.com/disruption-ops/orchestrator/pkg/catalogue"
	"github.com/disruption-ops/orchestrator/pkg/datafetcher"
	"github.com/disruption-ops/orchestrator/pkg/gateway"
	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// flightNumberHint is used only to produce a hint embedded in the
// extraction prompt; the authoritative parse is still the LLM's
// structured output (SPEC_FULL.md §4.3).
var flightNumberHint = regexp.MustCompile(`(?i)EY\s*\d{3,4}`)

var flightInfoSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"flight_number":    map[string]interface{}{"type": "string"},
		"date":             map[string]interface{}{"type": "string", "description": "a concrete ISO-8601 date or a relative phrase like today/yesterday/tomorrow/a weekday name"},
		"disruption_event": map[string]interface{}{"type": "string"},
	},
	"required": []string{"flight_number", "date", "disruption_event"},
}

// Runtime executes catalogued agents against the Model Gateway and the
// Data Fetcher.
type Runtime struct {
	Gateway   *gateway.Gateway
	Fetcher   *datafetcher.Fetcher
	Catalogue *catalogue.Catalogue
	Now       func() time.Time
	Location  *time.Location
	Logger    *logrus.Logger
}

// New builds a Runtime. A nil Now defaults to time.Now; a nil Location
// defaults to UTC.
func New(gw *gateway.Gateway, fetcher *datafetcher.Fetcher, cat *catalogue.Catalogue, logger *logrus.Logger) *Runtime {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runtime{
		Gateway:   gw,
		Fetcher:   fetcher,
		Catalogue: cat,
		Now:       time.Now,
		Location:  time.UTC,
		Logger:    logger,
	}
}

func (r *Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runtime) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return time.UTC
}

// Run executes agentID against payload and always returns a terminal
// AgentResponse — it never returns an error (SPEC_FULL.md §4.3: "Always
// emit an AgentResponse").
func (r *Runtime) Run(ctx context.Context, agentID string, payload schema.DisruptionPayload, peers *schema.Collation, constraints []schema.BindingConstraint) schema.AgentResponse {
	start := r.now()

	descriptor, ok := r.Catalogue.Get(agentID)
	if !ok {
		return errorResponse(agentID, start, fmt.Errorf("agent %q is not in the catalogue", agentID))
	}

	logFields := logging.AgentFields("run", agentID)
	r.Logger.WithFields(logFields.ToLogrus()).Info("agent runtime: starting")

	systemPrompt := r.assembleSystemPrompt(descriptor, payload, peers, constraints)

	flightInfo, extractFallbacks, err := r.extractFlightInfo(ctx, systemPrompt, payload.UserPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return timeoutResponse(agentID, start)
		}
		return errorResponse(agentID, start, err)
	}

	tools := toolSpecs(descriptor.AuthorizedTools)
	handler := r.toolHandler(descriptor)

	result, fallbacks, err := r.Gateway.ToolCallLoop(ctx, gateway.ToolCallLoopRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   payload.UserPrompt,
		Tools:        tools,
		Handler:      handler,
	})
	allFallbacks := append(extractFallbacks, fallbacks...)
	if len(allFallbacks) > 0 {
		r.Logger.WithFields(logFields.ToLogrus()).WithField("fallback_hops", len(allFallbacks)).Warn("agent runtime: model gateway fell back")
	}
	if err != nil {
		if ctx.Err() != nil {
			return timeoutResponse(agentID, start)
		}
		return errorResponse(agentID, start, err)
	}

	resp := r.buildResponse(descriptor, result, flightInfo, start)
	resp.AgentName = agentID
	for i := range allFallbacks {
		allFallbacks[i].AgentID = agentID
	}
	resp.FallbackEvents = allFallbacks
	return resp
}

// assembleSystemPrompt composes the catalogued system prompt with the
// phase-dependent additions the revision phase requires: a compact
// rendering of the peer Collation and of every blocking/high-severity
// constraint published so far (SPEC_FULL.md §4.3).
func (r *Runtime) assembleSystemPrompt(descriptor schema.AgentDescriptor, payload schema.DisruptionPayload, peers *schema.Collation, constraints []schema.BindingConstraint) string {
	var b strings.Builder
	b.WriteString(descriptor.SystemPrompt)

	if payload.Phase != schema.PhaseRevision {
		return b.String()
	}

	b.WriteString("\n\nPeer recommendations from the initial phase:\n")
	if peers != nil {
		for peerID, resp := range peers.Responses {
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f): %s\n", peerID, resp.Status, resp.Confidence, resp.Recommendation)
		}
	}

	blocking := filterBySeverity(constraints, schema.SeverityBlocking, schema.SeverityHigh)
	if len(blocking) > 0 {
		b.WriteString("\nBinding constraints you must not violate:\n")
		for _, c := range blocking {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", c.Severity, c.SourceAgent, c.Text)
		}
	}

	return b.String()
}

func filterBySeverity(constraints []schema.BindingConstraint, allowed ...schema.Severity) []schema.BindingConstraint {
	set := make(map[schema.Severity]bool, len(allowed))
	for _, s := range allowed {
		set[s] = true
	}
	var out []schema.BindingConstraint
	for _, c := range constraints {
		if set[c.Severity] {
			out = append(out, c)
		}
	}
	return out
}

// extractFlightInfo calls the gateway's extract primitive with a
// regex-assisted hint embedded in the prompt, then validates and
// normalizes the result (trim + uppercase flight number, resolve a
// relative date phrase against the Runtime's clock and timezone).
func (r *Runtime) extractFlightInfo(ctx context.Context, systemPrompt, userPrompt string) (*schema.FlightInfo, []schema.FallbackEvent, error) {
	prompt := userPrompt
	if hint := flightNumberHint.FindString(userPrompt); hint != "" {
		prompt = fmt.Sprintf("%s\n\n(hint: the text appears to reference flight %q)", userPrompt, strings.ToUpper(strings.ReplaceAll(hint, " ", "")))
	}

	out, fallbacks, err := r.Gateway.Extract(ctx, gateway.ExtractRequest{
		Prompt: fmt.Sprintf("%s\n\n%s", systemPrompt, prompt),
		Schema: flightInfoSchema,
	})
	if err != nil {
		return nil, fallbacks, apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "flight info extraction failed")
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fallbacks, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "flight info re-marshal failed")
	}
	var info schema.FlightInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fallbacks, apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "flight info did not match the expected shape")
	}

	info.Date = schema.ParseRelativeDate(info.Date, r.now(), r.location())
	if err := schema.ValidateFlightInfo(&info); err != nil {
		return nil, fallbacks, err
	}
	return &info, fallbacks, nil
}

// toolSpecs turns an agent's authorized tools into the ToolSpecs the
// Model Gateway advertises to the model during the tool-call loop.
func toolSpecs(tools []schema.ToolDescriptor) []gateway.ToolSpec {
	specs := make([]gateway.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, gateway.ToolSpec{
			Name:        t.Name,
			Description: fmt.Sprintf("Invokes the %s data fetcher operation (%s).", t.FetcherOperation, t.ArgumentShape),
			Parameters:  parametersFor(t.FetcherOperation),
		})
	}
	return specs
}

func parametersFor(fetcherOperation string) map[string]interface{} {
	switch fetcherOperation {
	case "point_get":
		return map[string]interface{}{
			"properties": map[string]interface{}{
				"key": map[string]interface{}{"type": "string"},
			},
		}
	case "range_query":
		return map[string]interface{}{
			"properties": map[string]interface{}{
				"index":     map[string]interface{}{"type": "string"},
				"min_score": map[string]interface{}{"type": "number"},
				"max_score": map[string]interface{}{"type": "number"},
			},
		}
	case "filter_scan":
		return map[string]interface{}{
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string"},
				"limit":   map[string]interface{}{"type": "integer"},
			},
		}
	default:
		return map[string]interface{}{"properties": map[string]interface{}{}}
	}
}

// toolHandler binds one agent's authorized tools to live Data Fetcher
// calls. The authorization set is consulted here, by the Model Gateway
// side of the boundary, never by the LLM itself (SPEC_FULL.md §4.3).
func (r *Runtime) toolHandler(descriptor schema.AgentDescriptor) gateway.ToolHandler {
	byName := make(map[string]schema.ToolDescriptor, len(descriptor.AuthorizedTools))
	for _, t := range descriptor.AuthorizedTools {
		byName[t.Name] = t
	}

	return func(ctx context.Context, call gateway.ToolCall) gateway.ToolResult {
		tool, ok := byName[call.Name]
		if !ok {
			return gateway.ToolResult{Name: call.Name, Error: fmt.Sprintf("tool %q is not authorized for agent %q", call.Name, descriptor.AgentID)}
		}
		if err := validation.ValidateFetcherOperation(tool.FetcherOperation); err != nil {
			return gateway.ToolResult{Name: call.Name, Error: err.Error()}
		}

		switch tool.FetcherOperation {
		case "point_get":
			key, _ := call.Arguments["key"].(string)
			if err := validation.ValidateStringInput("key", key, 256); err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			record, err := r.Fetcher.PointGet(ctx, key)
			if err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			return gateway.ToolResult{Name: call.Name, Content: encodeRecord(record)}

		case "range_query":
			index, _ := call.Arguments["index"].(string)
			if err := validation.ValidateStringInput("index", index, 256); err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			minScore, _ := call.Arguments["min_score"].(float64)
			maxScore, _ := call.Arguments["max_score"].(float64)
			records, err := r.Fetcher.RangeQuery(ctx, index, minScore, maxScore)
			if err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			return gateway.ToolResult{Name: call.Name, Content: encodeRecords(records)}

		case "filter_scan":
			pattern, _ := call.Arguments["pattern"].(string)
			if err := validation.ValidateStringInput("pattern", pattern, 256); err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			limit, _ := call.Arguments["limit"].(float64)
			if err := validation.ValidateLimit(int(limit)); err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			records, err := r.Fetcher.FilterScan(ctx, pattern, nil, int(limit))
			if err != nil {
				return gateway.ToolResult{Name: call.Name, Error: err.Error()}
			}
			return gateway.ToolResult{Name: call.Name, Content: encodeRecords(records)}

		default:
			return gateway.ToolResult{Name: call.Name, Error: fmt.Sprintf("tool %q has an unrecognized fetcher_operation %q", call.Name, tool.FetcherOperation)}
		}
	}
}

func encodeRecord(r *datafetcher.Record) string {
	raw, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func encodeRecords(rs []*datafetcher.Record) string {
	raw, err := json.Marshal(rs)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// recommendationPayload is the structured shape an agent's final answer
// is expected to parse as.
type recommendationPayload struct {
	Recommendation     string   `json:"recommendation"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	BindingConstraints []string `json:"binding_constraints"`
	DataSources        []string `json:"data_sources"`
}

// buildResponse attempts to parse result.FinalAnswer as a structured
// recommendationPayload; on parse failure, the raw text becomes the
// recommendation at confidence 0.5 with a degraded_parse marker
// (SPEC_FULL.md §4.3). Binding constraints are kept only if the agent is
// in the safety subset; otherwise they are dropped with a warning.
func (r *Runtime) buildResponse(descriptor schema.AgentDescriptor, result gateway.ToolCallLoopResult, flightInfo *schema.FlightInfo, start time.Time) schema.AgentResponse {
	if result.Truncated {
		return schema.AgentResponse{
			Status:              schema.StatusSuccess,
			Recommendation:      result.FinalAnswer,
			Confidence:          0.5,
			Reasoning:           "truncated after reaching max_iterations without a final structured answer",
			ExtractedFlightInfo: flightInfo,
			Duration:            r.now().Sub(start),
			Timestamp:           r.now(),
			Truncated:           true,
		}
	}

	var payload recommendationPayload
	if err := json.Unmarshal([]byte(result.FinalAnswer), &payload); err != nil {
		return schema.AgentResponse{
			Status:              schema.StatusSuccess,
			Recommendation:      result.FinalAnswer,
			Confidence:          0.5,
			Reasoning:           "degraded_parse: final answer was not structured JSON",
			ExtractedFlightInfo: flightInfo,
			Duration:            r.now().Sub(start),
			Timestamp:           r.now(),
		}
	}

	constraints := payload.BindingConstraints
	if len(constraints) > 0 && !descriptor.IsSafetyAgent {
		r.Logger.WithFields(logging.AgentFields("constraints", descriptor.AgentID).ToLogrus()).
			Warn("agent runtime: dropping binding constraints from a non-safety agent")
		constraints = nil
	}

	return schema.AgentResponse{
		Status:              schema.StatusSuccess,
		Recommendation:      payload.Recommendation,
		Confidence:          payload.Confidence,
		Reasoning:           payload.Reasoning,
		BindingConstraints:  constraints,
		DataSources:         payload.DataSources,
		ExtractedFlightInfo: flightInfo,
		Duration:            r.now().Sub(start),
		Timestamp:           r.now(),
	}
}

func errorResponse(agentID string, start time.Time, err error) schema.AgentResponse {
	return schema.AgentResponse{
		AgentName: agentID,
		Status:    schema.StatusError,
		Error:     err.Error(),
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
}

func timeoutResponse(agentID string, start time.Time) schema.AgentResponse {
	return schema.AgentResponse{
		AgentName: agentID,
		Status:    schema.StatusTimeout,
		Error:     apperrors.NewCancelledError(fmt.Sprintf("agent %s", agentID)).Error(),
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
}
