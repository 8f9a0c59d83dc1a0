// Package gateway implements the Model Gateway: a uniform interface
// over several LLM providers (Anthropic primary, AWS Bedrock, Google
// Vertex AI, and a local langchaingo-backed model), composed into an
// ordered fallback chain so a throttled provider, or one whose circuit
// breaker is open, hands the call to the next provider instead of
// failing it; any other provider error ends the call (SPEC_FULL.md §4.2).
package gateway

import (
	"context"
)

// ToolCall is one model-requested tool invocation inside a
// ToolCallLoop round.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// ToolResult is the caller's answer to one ToolCall, fed back into the
// next round of the loop.
type ToolResult struct {
	Name    string
	Content string
	Error   string
}

// ToolHandler executes one authorized tool call and returns its result.
type ToolHandler func(ctx context.Context, call ToolCall) ToolResult

// CompletionRequest is a single-turn prompt completion.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// ExtractRequest asks a provider to answer strictly in the shape of
// schema (a JSON Schema document), used to pull a structured
// FlightInfo or candidate-action list out of free text.
type ExtractRequest struct {
	Prompt string
	Schema map[string]interface{}
}

// ToolCallLoopRequest drives a multi-round tool-call loop: the model is
// given SystemPrompt/UserPrompt plus the set of tools it may call, and
// Handler executes whichever tools it requests each round, until it
// returns a final answer or MaxIterations is reached.
type ToolCallLoopRequest struct {
	SystemPrompt  string
	UserPrompt    string
	Tools         []ToolSpec
	Handler       ToolHandler
	MaxIterations int
}

// ToolSpec describes one tool a model may call during a ToolCallLoop.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCallLoopResult is the terminal outcome of a ToolCallLoop: either
// FinalAnswer is set, or Truncated is true because MaxIterations was
// reached without one.
type ToolCallLoopResult struct {
	FinalAnswer string
	Iterations  int
	Truncated   bool
}

// ModelProvider is the uniform interface every upstream LLM backend
// implements: single-turn completion, structured extraction, and a
// bounded tool-call loop.
type ModelProvider interface {
	// ID identifies this provider for fallback-chain bookkeeping and
	// audit-trail FallbackEvents (e.g. "anthropic-primary").
	ID() string

	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, error)
	ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, error)
}
