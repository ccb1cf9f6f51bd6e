// Package minesweeper implements the bet-and-reveal grid game. One game
// at a time per (user, chat): two mines and a claim point hidden on a
// 9-cell board, three plain safe reveals to win.
package minesweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"telegram-card-bot/internal/cardgen"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/repository"
)

// ErrCellOutOfRange is returned when a reveal targets a cell outside the grid.
var ErrCellOutOfRange = errors.New("cell index out of range")

// RevealOutcome classifies what one reveal uncovered.
type RevealOutcome int

const (
	// RevealNoop means the game was already terminal or the cell was
	// already revealed; the game is returned unchanged.
	RevealNoop RevealOutcome = iota
	// RevealSafe is a plain safe cell below the win threshold.
	RevealSafe
	// RevealClaimPoint is a claim-point cell; the caller credits the
	// balance, the engine only records the reveal.
	RevealClaimPoint
	// RevealMine ends the game as lost.
	RevealMine
	// RevealWon is the safe reveal that reached the win threshold.
	RevealWon
)

// Store is the persistence surface the engine needs.
type Store interface {
	Create(ctx context.Context, g *model.MinesweeperGame) (*model.MinesweeperGame, error)
	GetByID(ctx context.Context, gameID int64) (*model.MinesweeperGame, error)
	GetLatest(ctx context.Context, userID, chatID int64) (*model.MinesweeperGame, error)
	ApplyReveal(ctx context.Context, gameID int64, cell int64, status model.GameStatus) (*model.MinesweeperGame, error)
	SetRewardCard(ctx context.Context, gameID, cardID int64) error
}

// SourcePicker selects the art source for the reward card at game
// creation time, so a won game always has a usable source on record.
type SourcePicker interface {
	SelectRandomWithImage(ctx context.Context, chatID int64) (*model.SourceProfile, error)
}

// Config holds the engine's resolved settings.
type Config struct {
	MineCount       int
	ClaimPointCount int
	Cooldown        time.Duration
}

// Engine runs minesweeper games.
type Engine struct {
	store   Store
	sources SourcePicker
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a minesweeper Engine.
func New(store Store, sources SourcePicker, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.MineCount < 1 || cfg.ClaimPointCount < 0 {
		return nil, fmt.Errorf("invalid board config: %d mines, %d claim points", cfg.MineCount, cfg.ClaimPointCount)
	}
	if cfg.MineCount+cfg.ClaimPointCount > GridSize-SafeRevealsRequired {
		return nil, fmt.Errorf("board config leaves fewer than %d safe cells", SafeRevealsRequired)
	}

	return &Engine{
		store:   store,
		sources: sources,
		cfg:     cfg,
		logger:  logger.With().Str("game", "minesweeper").Logger(),
		now:     time.Now,
	}, nil
}

// Name implements game.Info.
func (e *Engine) Name() string { return "Minesweeper" }

// Command implements game.Info.
func (e *Engine) Command() string { return "mines" }

// Description implements game.Info.
func (e *Engine) Description() string {
	return "Bet a card, dodge the mines, reveal three safe cells to win"
}

// GetExisting returns the game currently blocking a new one for the
// (user, chat), or nil. An active game always blocks. A terminal game
// blocks only while it is younger than the cooldown; availability is
// derived from started_at, never stored.
func (e *Engine) GetExisting(ctx context.Context, userID, chatID int64) (*model.MinesweeperGame, error) {
	game, err := e.store.GetLatest(ctx, userID, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if game.Status == model.GameStatusActive {
		return game, nil
	}
	if e.now().Sub(game.StartedAt) < e.cfg.Cooldown {
		return game, nil
	}
	return nil, nil
}

// Create starts a new game with the bet card snapshot. The caller must
// have already checked GetExisting; this does not re-check. Returns
// cardgen.ErrNoEligibleUser when the chat has no art source to back the
// eventual reward card.
func (e *Engine) Create(ctx context.Context, userID, chatID int64, betCard *model.Card) (*model.MinesweeperGame, error) {
	source, err := e.sources.SelectRandomWithImage(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to pick reward source: %w", err)
	}
	if source == nil {
		return nil, cardgen.ErrNoEligibleUser
	}

	mines, claimPoints := newBoard(e.cfg.MineCount, e.cfg.ClaimPointCount)

	game, err := e.store.Create(ctx, &model.MinesweeperGame{
		UserID:              userID,
		ChatID:              chatID,
		BetCardID:           betCard.ID,
		BetCardTitle:        betCard.Title,
		BetCardRarity:       betCard.Rarity,
		MinePositions:       mines,
		ClaimPointPositions: claimPoints,
		SourceType:          source.Type,
		SourceID:            source.ID,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int64("game_id", game.ID).
		Int64("user_id", userID).
		Int64("chat_id", chatID).
		Int64("bet_card_id", betCard.ID).
		Msg("minesweeper game created")

	return game, nil
}

// Reveal uncovers one cell. Terminal games and already-revealed cells
// are no-ops that return the current game state; only not-found and
// out-of-range inputs are errors.
func (e *Engine) Reveal(ctx context.Context, gameID, cell int64) (*model.MinesweeperGame, RevealOutcome, error) {
	if cell < 0 || cell >= GridSize {
		return nil, RevealNoop, ErrCellOutOfRange
	}

	game, err := e.store.GetByID(ctx, gameID)
	if err != nil {
		return nil, RevealNoop, err
	}

	if game.Status.Terminal() || contains(game.RevealedCells, cell) {
		return game, RevealNoop, nil
	}

	next := model.GameStatusActive
	outcome := RevealSafe
	switch {
	case contains(game.MinePositions, cell):
		next = model.GameStatusLost
		outcome = RevealMine
	case contains(game.ClaimPointPositions, cell):
		outcome = RevealClaimPoint
	default:
		revealed := append(append([]int64{}, game.RevealedCells...), cell)
		if safeReveals(revealed, game.MinePositions, game.ClaimPointPositions) >= SafeRevealsRequired {
			next = model.GameStatusWon
			outcome = RevealWon
		}
	}

	updated, err := e.store.ApplyReveal(ctx, gameID, cell, next)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			// A concurrent reveal won the conditional update. Re-read
			// and report the current state as a no-op.
			current, readErr := e.store.GetByID(ctx, gameID)
			if readErr != nil {
				return nil, RevealNoop, readErr
			}
			return current, RevealNoop, nil
		}
		return nil, RevealNoop, err
	}

	if updated.Status.Terminal() {
		e.logger.Info().
			Int64("game_id", gameID).
			Str("status", string(updated.Status)).
			Int("moves", updated.MovesCount).
			Msg("minesweeper game finished")
	}

	return updated, outcome, nil
}

// AttachReward records the generated reward card on a won game.
func (e *Engine) AttachReward(ctx context.Context, gameID, cardID int64) error {
	return e.store.SetRewardCard(ctx, gameID, cardID)
}

// GetByID returns one game.
func (e *Engine) GetByID(ctx context.Context, gameID int64) (*model.MinesweeperGame, error) {
	return e.store.GetByID(ctx, gameID)
}
