package triage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/pneumo-triage/backend/internal/config"
	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/ratelimit"
	"github.com/DeafMist/pneumo-triage/backend/internal/summarizer"
	"github.com/DeafMist/pneumo-triage/backend/internal/vocab"
)

// FromConfig loads the vocabulary, builds the configured summary provider and
// gates it with the configured minimum interval.
func FromConfig(ctx context.Context, cfg config.Summarizer, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	v, err := vocab.LoadFile(cfg.VocabularyFile)
	if err != nil {
		return nil, err
	}

	s, err := summarizer.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init summarizer: %w", err)
	}

	log.Info("triage pipeline ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Duration("min_interval", cfg.MinInterval),
		slog.Int("recommendation_phrases", len(v.RecommendationPhrases)),
	)

	return New(
		processing.NewNormalizer(v),
		processing.NewClassifier(v),
		s,
		ratelimit.NewGate(cfg.MinInterval),
		log,
	), nil
}
