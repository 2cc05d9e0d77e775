package bootstrap

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/conversahq/conversa-platform/internal/config"
	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// BuildResolver wires the inference stage of the cascade. Bedrock is the
// primary model; Gemini becomes the fallback when an API key is present.
// Returns nil when no model is configured, which leaves the cascade running
// on the pattern matcher and disambiguation alone.
func BuildResolver(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*engine.InferenceResolver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	bedrockModel := strings.TrimSpace(cfg.BedrockModelID)
	geminiKey := strings.TrimSpace(cfg.GeminiAPIKey)

	var primary engine.LLMClient
	model := bedrockModel
	if bedrockModel != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		primary = engine.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	}

	var fallback engine.LLMClient
	if geminiKey != "" {
		gemini, err := engine.NewGeminiLLMClient(ctx, geminiKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		if primary == nil {
			primary = gemini
			model = cfg.GeminiModelID
		} else {
			fallback = gemini
		}
	}

	if primary == nil {
		logger.Warn("no inference model configured; intent cascade will not reach the LLM stage")
		return nil, nil
	}

	client := primary
	if fallback != nil {
		client = engine.NewFallbackLLMClient(primary, fallback, logger)
	}

	logger.Info("inference resolver ready", "model", model, "fallback", fallback != nil)
	return engine.NewInferenceResolver(client, model, cfg.ConfidenceFloor, cfg.InferenceTimeout, logger), nil
}
