package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// VertexAIConfig configures the Vertex AI provider adapter.
type VertexAIConfig struct {
	Project     string
	Location    string
	Model       string
	MaxTokens   int32
	Temperature float32
}

func (c VertexAIConfig) withDefaults() VertexAIConfig {
	if c.Model == "" {
		c.Model = "gemini-1.5-pro"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// VertexAIProvider is the tertiary ModelProvider, reached once both
// Anthropic and Bedrock have fallen through their own breakers. It
// talks to Google's Vertex AI Gemini models.
type VertexAIProvider struct {
	client *genai.Client
	cfg    VertexAIConfig
}

// NewVertexAIProvider builds a ModelProvider against Vertex AI. ctx is
// only used for client construction, not held past New.
func NewVertexAIProvider(ctx context.Context, cfg VertexAIConfig) (*VertexAIProvider, error) {
	cfg = cfg.withDefaults()
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "vertexai: client construction failed")
	}
	return &VertexAIProvider{client: client, cfg: cfg}, nil
}

func (p *VertexAIProvider) newModel() *genai.GenerativeModel {
	model := p.client.GenerativeModel(p.cfg.Model)
	model.SetMaxOutputTokens(p.cfg.MaxTokens)
	model.SetTemperature(p.cfg.Temperature)
	return model
}

func (p *VertexAIProvider) ID() string { return "vertexai-tertiary" }

// classifyErr distinguishes the gRPC ResourceExhausted status Vertex AI
// returns for quota/rate-limit rejections (ErrorTypeThrottled, so the
// chain tries the next candidate) from every other error (everything
// else propagates immediately).
func (p *VertexAIProvider) classifyErr(operation string, err error) error {
	if status.Code(err) == codes.ResourceExhausted {
		return apperrors.NewProviderThrottledError(p.ID(), err)
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeTransient, "%s failed", operation)
}

func (p *VertexAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := p.newModel()
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return "", p.classifyErr("vertexai.complete", err)
	}
	return extractVertexText(resp), nil
}

func (p *VertexAIProvider) Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "vertexai.extract: marshal schema")
	}
	system := fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else, no prose, no markdown fences:\n%s",
		schemaJSON,
	)

	model := p.newModel()
	model.SetTemperature(0)
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	model.GenerationConfig.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, p.classifyErr("vertexai.extract", err)
	}

	text := extractVertexText(resp)
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("vertexai.extract: model response was not valid JSON: %v", err))
	}
	return out, nil
}

// ToolCallLoop drives the same multi-round function-calling shape as
// the other providers over a persistent chat session: the model emits
// FunctionCall parts, the handler executes them, and FunctionResponse
// parts are sent back as the next turn, until the model answers with
// plain text or the iteration budget runs out.
func (p *VertexAIProvider) ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	model := p.newModel()
	if req.SystemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toVertexSchema(t.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	chat := model.StartChat()
	parts := []genai.Part{genai.Text(req.UserPrompt)}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := chat.SendMessage(ctx, parts...)
		if err != nil {
			return ToolCallLoopResult{}, p.classifyErr("vertexai.tool_call_loop", err)
		}

		calls := extractVertexFunctionCalls(resp)
		if len(calls) == 0 {
			return ToolCallLoopResult{FinalAnswer: extractVertexText(resp), Iterations: iteration}, nil
		}

		parts = parts[:0]
		for _, call := range calls {
			result := req.Handler(ctx, ToolCall{Name: call.Name, Arguments: call.Args})
			response := map[string]interface{}{"content": result.Content}
			if result.Error != "" {
				response = map[string]interface{}{"error": result.Error}
			}
			parts = append(parts, genai.FunctionResponse{Name: call.Name, Response: response})
		}
	}

	return ToolCallLoopResult{Iterations: maxIterations, Truncated: true}, nil
}

type vertexFunctionCall struct {
	Name string
	Args map[string]interface{}
}

func extractVertexFunctionCalls(resp *genai.GenerateContentResponse) []vertexFunctionCall {
	var calls []vertexFunctionCall
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return calls
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if fc, ok := part.(genai.FunctionCall); ok {
			calls = append(calls, vertexFunctionCall{Name: fc.Name, Args: fc.Args})
		}
	}
	return calls
}

func extractVertexText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out
}

func toVertexSchema(parameters map[string]interface{}) *genai.Schema {
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return &schema
}
