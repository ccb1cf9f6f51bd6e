// Package cardgen defines the contract with the external card-art
// generation pipeline. The engines treat generation as a slow, fallible
// collaborator: its failures are named errors the caller must catch to
// revert any speculative state (pending-reroll flags, provisional charges).
package cardgen

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
)

// Named errors raised by the generation collaborator.
var (
	// ErrNoEligibleUser means the chat has no source profile with a portrait.
	ErrNoEligibleUser = errors.New("no eligible user or character with generated art")
	// ErrImageGeneration means the art pipeline failed to produce an image.
	ErrImageGeneration = errors.New("image generation failed")
	// ErrInvalidSource means the source profile is malformed or no longer exists.
	ErrInvalidSource = errors.New("invalid card source")
)

// GeneratedCard is the output of one generation call, not yet persisted.
type GeneratedCard struct {
	Title       string
	Rarity      rarity.Tier
	ImageFileID string
}

// Generator produces card art from a source profile at a given rarity.
type Generator interface {
	Generate(ctx context.Context, source *model.SourceProfile, tier rarity.Tier) (*GeneratedCard, error)
}

// GenerateWithRetries calls gen.Generate up to maxRetries+1 times.
// Only ErrImageGeneration is retried; ErrNoEligibleUser and
// ErrInvalidSource are permanent and returned immediately.
func GenerateWithRetries(ctx context.Context, gen Generator, source *model.SourceProfile, tier rarity.Tier, maxRetries int) (*GeneratedCard, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			log.Debug().
				Int("attempt", attempt).
				Str("rarity", string(tier)).
				Msg("Retrying card generation")
		}

		card, err := gen.Generate(ctx, source, tier)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, ErrImageGeneration) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
