package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/disruption-ops/orchestrator/internal/config"
	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/gateway"
)

// buildProviders translates the Model Gateway's configured fallback
// chain into concrete gateway.ModelProvider backends, in the order
// declared (the Gateway itself walks them in slice order on a throttle
// or breaker trip).
func buildProviders(ctx context.Context, providers []config.ProviderConfig) ([]gateway.ModelProvider, error) {
	out := make([]gateway.ModelProvider, 0, len(providers))
	for _, p := range providers {
		provider, err := buildProvider(ctx, p)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "gateway provider %q", p.ID)
		}
		out = append(out, provider)
	}
	return out, nil
}

func buildProvider(ctx context.Context, p config.ProviderConfig) (gateway.ModelProvider, error) {
	switch p.Kind {
	case "anthropic":
		return gateway.NewAnthropicProvider(gateway.AnthropicConfig{
			APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
			Model:       p.Model,
			MaxTokens:   int64(p.MaxTokens),
			Temperature: float64(p.Temperature),
		}), nil

	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.Region))
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "bedrock: aws config load failed")
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return gateway.NewBedrockProvider(runtime, gateway.BedrockConfig{
			ModelID:     p.Model,
			MaxTokens:   int32(p.MaxTokens),
			Temperature: p.Temperature,
		}), nil

	case "vertexai":
		return gateway.NewVertexAIProvider(ctx, gateway.VertexAIConfig{
			Project:     os.Getenv("GOOGLE_CLOUD_PROJECT"),
			Location:    p.Region,
			Model:       p.Model,
			MaxTokens:   int32(p.MaxTokens),
			Temperature: p.Temperature,
		})

	case "local":
		return gateway.NewLocalProvider(gateway.LocalConfig{
			Model:       p.Model,
			ServerURL:   p.Endpoint,
			MaxTokens:   p.MaxTokens,
			Temperature: float64(p.Temperature),
		})

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
}
