package internal

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/custodybuddy/internal/ai"
	"github.com/DukeRupert/custodybuddy/internal/ai/anthropic"
	"github.com/DukeRupert/custodybuddy/internal/ai/gemini"
	"github.com/DukeRupert/custodybuddy/internal/ai/mock"
)

// NewAIProvider builds the provider named by AIProvider. It returns nil for
// "none"; reports then use placeholder content.
func NewAIProvider(ctx context.Context, cfg *Config, logger *slog.Logger) (ai.Provider, error) {
	providerCfg := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	switch cfg.AIProvider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: providerCfg,
		}, logger)
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			ProviderConfig: providerCfg,
		}, logger)
	case "mock":
		logger.Warn("Using mock AI provider")
		return mock.New(logger), nil
	default:
		logger.Info("No AI provider configured; reports will use placeholder content")
		return nil, nil
	}
}
