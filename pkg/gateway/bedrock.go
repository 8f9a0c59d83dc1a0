package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
)

// BedrockConfig configures the Bedrock provider adapter.
type BedrockConfig struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
}

func (c BedrockConfig) withDefaults() BedrockConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// BedrockProvider is the secondary ModelProvider, reached once the
// Anthropic primary has exhausted its own breaker/fallback budget. It
// talks to the AWS Bedrock Converse API.
type BedrockProvider struct {
	runtime *bedrockruntime.Client
	cfg     BedrockConfig
}

// NewBedrockProvider builds a ModelProvider around an
// *bedrockruntime.Client.
func NewBedrockProvider(runtime *bedrockruntime.Client, cfg BedrockConfig) *BedrockProvider {
	return &BedrockProvider{runtime: runtime, cfg: cfg.withDefaults()}
}

func (p *BedrockProvider) ID() string { return "bedrock-secondary" }

// classifyErr distinguishes Bedrock's modeled ThrottlingException
// (ErrorTypeThrottled, so the chain tries the next candidate) from
// every other Converse error (everything else propagates immediately).
func (p *BedrockProvider) classifyErr(operation string, err error) error {
	var throttled *brtypes.ThrottlingException
	if errors.As(err, &throttled) {
		return apperrors.NewProviderThrottledError(p.ID(), err)
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeTransient, "%s failed", operation)
}

func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.cfg.ModelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.UserPrompt}},
			},
		},
		InferenceConfig: p.inferenceConfig(req.MaxTokens, req.Temperature),
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return "", p.classifyErr("bedrock.complete", err)
	}
	return extractBedrockText(output), nil
}

func (p *BedrockProvider) Extract(ctx context.Context, req ExtractRequest) (map[string]interface{}, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "bedrock.extract: marshal schema")
	}
	system := fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else, no prose, no markdown fences:\n%s",
		schemaJSON,
	)

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.cfg.ModelID),
		System:  []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}},
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
		InferenceConfig: p.inferenceConfig(0, 0),
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return nil, p.classifyErr("bedrock.extract", err)
	}

	text := extractBedrockText(output)
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("bedrock.extract: model response was not valid JSON: %v", err))
	}
	return out, nil
}

func (p *BedrockProvider) ToolCallLoop(ctx context.Context, req ToolCallLoopRequest) (ToolCallLoopResult, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	toolConfig := p.encodeTools(req.Tools)
	messages := []brtypes.Message{
		{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.UserPrompt}},
		},
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		input := &bedrockruntime.ConverseInput{
			ModelId:         aws.String(p.cfg.ModelID),
			Messages:        messages,
			ToolConfig:      toolConfig,
			InferenceConfig: p.inferenceConfig(0, 0),
		}
		if req.SystemPrompt != "" {
			input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
		}

		output, err := p.runtime.Converse(ctx, input)
		if err != nil {
			return ToolCallLoopResult{}, p.classifyErr("bedrock.tool_call_loop", err)
		}

		if output.StopReason != brtypes.StopReasonToolUse {
			return ToolCallLoopResult{
				FinalAnswer: extractBedrockText(output),
				Iterations:  iteration,
			}, nil
		}

		msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
		if !ok {
			return ToolCallLoopResult{}, apperrors.NewFatalError("bedrock.tool_call_loop: tool_use stop reason without a message output")
		}

		var assistantBlocks []brtypes.ContentBlock
		var resultBlocks []brtypes.ContentBlock
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				assistantBlocks = append(assistantBlocks, v)
			case *brtypes.ContentBlockMemberToolUse:
				assistantBlocks = append(assistantBlocks, v)

				var args map[string]interface{}
				_ = json.Unmarshal(decodeBedrockDocument(v.Value.Input), &args)

				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				toolUseID := ""
				if v.Value.ToolUseId != nil {
					toolUseID = *v.Value.ToolUseId
				}

				result := req.Handler(ctx, ToolCall{Name: name, Arguments: args})
				resultBlock := brtypes.ToolResultBlock{ToolUseId: aws.String(toolUseID)}
				if result.Error != "" {
					resultBlock.Status = brtypes.ToolResultStatusError
					resultBlock.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: result.Error}}
				} else {
					resultBlock.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: result.Content}}
				}
				resultBlocks = append(resultBlocks, &brtypes.ContentBlockMemberToolResult{Value: resultBlock})
			}
		}
		messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: assistantBlocks})
		messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: resultBlocks})
	}

	return ToolCallLoopResult{Iterations: maxIterations, Truncated: true}, nil
}

func (p *BedrockProvider) inferenceConfig(maxTokens int, temperature float32) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	} else {
		cfg.MaxTokens = aws.Int32(p.cfg.MaxTokens)
	}
	temp := temperature
	if temp == 0 {
		temp = p.cfg.Temperature
	}
	cfg.Temperature = aws.Float32(temp)
	return cfg
}

func (p *BedrockProvider) encodeTools(specs []ToolSpec) *brtypes.ToolConfiguration {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, t := range specs {
		schemaDoc := document.NewLazyDocument(t.Parameters)
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func extractBedrockText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var out string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out += tb.Value
		}
	}
	return out
}

func decodeBedrockDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return raw
}
