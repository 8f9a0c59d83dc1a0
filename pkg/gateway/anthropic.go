package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// AnthropicConfig configures the Anthropic provider adapter.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.Model == "" {
		c.Model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// AnthropicProvider is the primary ModelProvider, backed directly by
// the Anthropic Messages API.
type AnthropicProvider struct {
	client *sdk.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider builds a ModelProvider around an
// anthropic-sdk-go client.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	cfg = cfg.withDefaults()
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicProvider{client: &client, cfg: cfg}
}

func (p *AnthropicProvider) ID() string { return "anthropic-primary" }

// classifyErr distinguishes the SDK's 429 rate-limit/quota response
// (ErrorTypeThrottled, so the chain tries the next candidate) from
// every other upstream error (everything else propagates immediately,
// per the Model Gateway's fallback-on-throttle-only contract).
func (p *AnthropicProvider) classifyErr(operation string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderThrottledError(p.ID(), err)
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeTransient, "%s failed", operation)
}

// Complete sends a single user turn and returns the model's text reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.cfg.Model),
		MaxTokens:   p.maxTokens(req.MaxTokens),
		Temperature: sdk.Float(float64(req.Temperature)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.classifyErr("anthropic.complete", err)
	}
	return extractText(msg), nil
}

// Extract asks the model to answer strictly as JSON matching req.Schema
// and unmarshals the resulting text block.
func (p *AnthropicProvider) Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "anthropic.extract: marshal schema")
	}
	system := fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else, no prose, no markdown fences:\n%s",
		schemaJSON,
	)

	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.cfg.Model),
		MaxTokens:   p.maxTokens(0),
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classifyErr("anthropic.extract", err)
	}

	text := extractText(msg)
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("anthropic.extract: model response was not valid JSON: %v", err))
	}
	return out, nil
}

// ToolCallLoop drives a multi-round conversation, invoking req.Handler
// for every tool_use block the model emits, until it stops requesting
// tools or req.MaxIterations rounds have elapsed.
func (p *AnthropicProvider) ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: toInputSchema(t.Parameters),
			},
		})
	}

	messages := []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt)),
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		params := sdk.MessageNewParams{
			Model:       sdk.Model(p.cfg.Model),
			MaxTokens:   p.maxTokens(0),
			Temperature: sdk.Float(p.cfg.Temperature),
			Messages:    messages,
			Tools:       tools,
		}
		if req.SystemPrompt != "" {
			params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
		}

		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return ToolCallLoopResult{}, p.classifyErr("anthropic.tool_call_loop", err)
		}

		if msg.StopReason != sdk.StopReasonToolUse {
			return ToolCallLoopResult{
				FinalAnswer: extractText(msg),
				Iterations:  iteration,
			}, nil
		}

		var assistantBlocks []sdk.ContentBlockParamUnion
		var resultBlocks []sdk.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					assistantBlocks = append(assistantBlocks, sdk.NewTextBlock(block.Text))
				}
			case "tool_use":
				var args map[string]interface{}
				_ = json.Unmarshal(block.Input, &args)
				assistantBlocks = append(assistantBlocks, sdk.NewToolUseBlock(block.ID, args, block.Name))

				result := req.Handler(ctx, ToolCall{Name: block.Name, Arguments: args})
				content := result.Content
				isError := result.Error != ""
				if isError {
					content = result.Error
				}
				resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(block.ID, content, isError))
			}
		}
		messages = append(messages, sdk.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, sdk.NewUserMessage(resultBlocks...))
	}

	return ToolCallLoopResult{Iterations: maxIterations, Truncated: true}, nil
}

func (p *AnthropicProvider) maxTokens(override int) int64 {
	if override > 0 {
		return int64(override)
	}
	return p.cfg.MaxTokens
}

func extractText(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

func toInputSchema(parameters map[string]interface{}) sdk.ToolInputSchemaParam {
	properties, _ := parameters["properties"]
	return sdk.ToolInputSchemaParam{
		Properties: properties,
	}
}
