package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// LocalConfig configures the offline fallback provider.
type LocalConfig struct {
	Model       string
	ServerURL   string
	MaxTokens   int
	Temperature float64
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.Model == "" {
		c.Model = "llama3"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// LocalProvider is the quaternary, last-resort ModelProvider: a
// locally-hosted model reached only once every network provider's
// fallback chain has been exhausted, so an orchestration run can still
// produce a conservative recommendation during a total upstream outage.
type LocalProvider struct {
	llm llms.Model
	cfg LocalConfig
}

// NewLocalProvider builds a ModelProvider around an Ollama-hosted
// model reachable at cfg.ServerURL.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	cfg = cfg.withDefaults()
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "local: ollama client construction failed")
	}
	return &LocalProvider{llm: llm, cfg: cfg}, nil
}

func (p *LocalProvider) ID() string { return "local-offline" }

// classifyErr distinguishes a 429-equivalent from the local Ollama
// endpoint (ErrorTypeThrottled, so the chain tries the next candidate)
// from every other error. langchaingo's Ollama backend does not expose
// a typed status here, so this falls back to matching the substrings
// an overloaded Ollama server is known to return.
func (p *LocalProvider) classifyErr(operation string, err error) error {
	if isThrottled(err) {
		return apperrors.NewProviderThrottledError(p.ID(), err)
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeTransient, "%s failed", operation)
}

func isThrottled(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"429", "rate limit", "too many requests", "quota exceeded"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (p *LocalProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := p.buildMessages(req.SystemPrompt, req.UserPrompt)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	resp, err := p.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(float64(req.Temperature)),
	)
	if err != nil {
		return "", p.classifyErr("local.complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewFatalError("local.complete: empty response from model")
	}
	return resp.Choices[0].Content, nil
}

func (p *LocalProvider) Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "local.extract: marshal schema")
	}
	system := fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else, no prose, no markdown fences:\n%s",
		schemaJSON,
	)

	resp, err := p.llm.GenerateContent(ctx, p.buildMessages(system, req.Prompt),
		llms.WithMaxTokens(p.cfg.MaxTokens),
		llms.WithTemperature(0),
	)
	if err != nil {
		return nil, p.classifyErr("local.extract", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewFatalError("local.extract: empty response from model")
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Content), &out); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("local.extract: model response was not valid JSON: %v", err))
	}
	return out, nil
}

// ToolCallLoop drives the same multi-round tool protocol as the other
// providers. The local model is the fallback of last resort and is not
// expected to be as reliable a tool-caller as the hosted providers, so
// callers should treat a Truncated result here as ordinary, not
// exceptional.
func (p *LocalProvider) ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	tools := make([]llms.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	messages := p.buildMessages(req.SystemPrompt, req.UserPrompt)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := p.llm.GenerateContent(ctx, messages,
			llms.WithMaxTokens(p.cfg.MaxTokens),
			llms.WithTemperature(p.cfg.Temperature),
			llms.WithTools(tools),
		)
		if err != nil {
			return ToolCallLoopResult{}, p.classifyErr("local.tool_call_loop", err)
		}
		if len(resp.Choices) == 0 {
			return ToolCallLoopResult{}, apperrors.NewFatalError("local.tool_call_loop: empty response from model")
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			return ToolCallLoopResult{FinalAnswer: choice.Content, Iterations: iteration}, nil
		}

		assistantParts := []llms.ContentPart{llms.TextContent{Text: choice.Content}}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, llms.ToolCall{
				ID:           tc.ID,
				Type:         "function",
				FunctionCall: tc.FunctionCall,
			})
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: assistantParts})

		for _, tc := range choice.ToolCalls {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args)
			result := req.Handler(ctx, ToolCall{Name: tc.FunctionCall.Name, Arguments: args})
			content := result.Content
			if result.Error != "" {
				content = result.Error
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    content,
				}},
			})
		}
	}

	return ToolCallLoopResult{Iterations: maxIterations, Truncated: true}, nil
}

func (p *LocalProvider) buildMessages(systemPrompt, userPrompt string) []llms.MessageContent {
	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}},
	})
	return messages
}
