package summarizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/pneumo-triage/backend/internal/config"
)

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.Summarizer, log *slog.Logger) (Summarizer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			BaseURL:         cfg.BaseURL,
			Temperature:     float32(cfg.Temperature),
			MaxPromptTokens: cfg.MaxPromptTokens,
		}, log), nil
	case config.ProviderBedrock:
		return NewBedrock(ctx, BedrockOptions{
			Region:          cfg.AWSRegion,
			Model:           cfg.Model,
			MaxTokens:       int32(cfg.MaxTokens),
			Temperature:     float32(cfg.Temperature),
			MaxPromptTokens: cfg.MaxPromptTokens,
		}, log)
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}
