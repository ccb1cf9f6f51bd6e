// Package ridethebus implements the 5-card higher/lower/equal guessing
// game. The player bets spins, guesses how each next card's rarity
// compares to the current one, and either rides all five cards for the
// top multiplier or cashes out early.
package ridethebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
	"telegram-card-bot/internal/repository"
)

// Guess is one of the three relations a player can call.
type Guess string

const (
	GuessHigher Guess = "higher"
	GuessLower  Guess = "lower"
	GuessEqual  Guess = "equal"
)

// Validation errors returned to the caller as normal branches.
var (
	ErrInvalidGuess    = errors.New("guess must be higher, lower or equal")
	ErrBetOutOfRange   = errors.New("bet amount out of range")
	ErrGameInProgress  = errors.New("an active game already exists")
	ErrGameNotActive   = errors.New("game is not active")
	ErrGameComplete    = errors.New("all cards have been played")
	ErrCashOutTooEarly = errors.New("cash out requires at least one correct guess")
)

// Store is the persistence surface the engine needs.
type Store interface {
	Create(ctx context.Context, g *model.RideTheBusGame) (*model.RideTheBusGame, error)
	GetByID(ctx context.Context, gameID int64) (*model.RideTheBusGame, error)
	GetActive(ctx context.Context, userID, chatID int64) (*model.RideTheBusGame, error)
	Advance(ctx context.Context, gameID int64, position int, multiplier int64, status model.GameStatus) (*model.RideTheBusGame, error)
	Finish(ctx context.Context, gameID int64, status model.GameStatus) (*model.RideTheBusGame, error)
}

// CardPool supplies the chat's card pool for availability checks and
// the uniform 5-card draw.
type CardPool interface {
	CountByChat(ctx context.Context, chatID int64) (int, error)
	RarityCounts(ctx context.Context, chatID int64) (map[rarity.Tier]int, error)
	SampleRandom(ctx context.Context, chatID int64, n int) ([]*model.Card, error)
}

// Config holds the engine's resolved settings.
type Config struct {
	MinBet       int64
	MaxBet       int64
	CardsPerGame int
	MinPoolSize  int
	// Multipliers is indexed by current position; index 0 is unused.
	Multipliers []int64
}

// Engine runs ride-the-bus games.
type Engine struct {
	store  Store
	pool   CardPool
	cfg    Config
	logger zerolog.Logger
}

// New creates a ride-the-bus Engine.
func New(store Store, pool CardPool, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.CardsPerGame < 2 {
		return nil, fmt.Errorf("cards per game must be at least 2, got %d", cfg.CardsPerGame)
	}
	if len(cfg.Multipliers) <= cfg.CardsPerGame {
		return nil, fmt.Errorf("multiplier table needs %d entries, got %d", cfg.CardsPerGame+1, len(cfg.Multipliers))
	}
	if cfg.MinBet <= 0 || cfg.MaxBet < cfg.MinBet {
		return nil, fmt.Errorf("invalid bet range [%d, %d]", cfg.MinBet, cfg.MaxBet)
	}

	return &Engine{
		store:  store,
		pool:   pool,
		cfg:    cfg,
		logger: logger.With().Str("game", "ridethebus").Logger(),
	}, nil
}

// Name implements game.Info.
func (e *Engine) Name() string { return "Ride the Bus" }

// Command implements game.Info.
func (e *Engine) Command() string { return "rtb" }

// Description implements game.Info.
func (e *Engine) Description() string {
	return "Bet spins, call higher/lower/equal across five cards, cash out any time after the first"
}

// ParseGuess converts raw callback input into a Guess.
func ParseGuess(s string) (Guess, error) {
	switch Guess(s) {
	case GuessHigher, GuessLower, GuessEqual:
		return Guess(s), nil
	default:
		return "", ErrInvalidGuess
	}
}

// CheckAvailability reports whether the chat's card pool can back a
// game: enough cards in total and at least one of every rarity tier.
// The 5-card draw itself is uniform, so the spread check is necessary
// but not sufficient for any particular draw.
func (e *Engine) CheckAvailability(ctx context.Context, chatID int64) (bool, string, error) {
	total, err := e.pool.CountByChat(ctx, chatID)
	if err != nil {
		return false, "", err
	}
	if total < e.cfg.MinPoolSize {
		return false, fmt.Sprintf("the chat needs at least %d cards to play, has %d", e.cfg.MinPoolSize, total), nil
	}

	counts, err := e.pool.RarityCounts(ctx, chatID)
	if err != nil {
		return false, "", err
	}
	for _, tier := range rarity.Order {
		if counts[tier] == 0 {
			return false, fmt.Sprintf("the chat has no %s cards yet", tier), nil
		}
	}

	return true, "", nil
}

// ValidateBet reports whether betAmount is inside the configured
// range. Callers must check this before charging the bet so an invalid
// amount never touches the balance.
func (e *Engine) ValidateBet(betAmount int64) error {
	if betAmount < e.cfg.MinBet || betAmount > e.cfg.MaxBet {
		return ErrBetOutOfRange
	}
	return nil
}

// Create starts a new game with a uniform sample from the chat's card
// pool. The bet has already been charged by the caller; a validation
// failure here must be followed by a refund.
func (e *Engine) Create(ctx context.Context, userID, chatID, betAmount int64) (*model.RideTheBusGame, error) {
	if err := e.ValidateBet(betAmount); err != nil {
		return nil, err
	}

	if _, err := e.store.GetActive(ctx, userID, chatID); err == nil {
		return nil, ErrGameInProgress
	} else if !errors.Is(err, repository.ErrGameNotFound) {
		return nil, err
	}

	cards, err := e.pool.SampleRandom(ctx, chatID, e.cfg.CardsPerGame)
	if err != nil {
		return nil, err
	}
	if len(cards) < e.cfg.CardsPerGame {
		return nil, fmt.Errorf("card pool returned %d cards, need %d", len(cards), e.cfg.CardsPerGame)
	}

	g := &model.RideTheBusGame{
		UserID:            userID,
		ChatID:            chatID,
		BetAmount:         betAmount,
		CardIDs:           make([]int64, len(cards)),
		CardRarities:      make([]rarity.Tier, len(cards)),
		CardTitles:        make([]string, len(cards)),
		CurrentMultiplier: e.cfg.Multipliers[1],
	}
	for i, c := range cards {
		g.CardIDs[i] = c.ID
		g.CardRarities[i] = c.Rarity
		g.CardTitles[i] = c.Title
	}

	game, err := e.store.Create(ctx, g)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int64("game_id", game.ID).
		Int64("user_id", userID).
		Int64("chat_id", chatID).
		Int64("bet", betAmount).
		Msg("rtb game created")

	return game, nil
}

// Guess resolves one higher/lower/equal call against the next card.
// On a correct call the position advances and the multiplier is looked
// up from the progression table; reaching the last card wins. On an
// incorrect call the game is lost and the bet forfeited.
func (e *Engine) Guess(ctx context.Context, gameID int64, guess Guess) (*model.RideTheBusGame, bool, error) {
	if _, err := ParseGuess(string(guess)); err != nil {
		return nil, false, err
	}

	game, err := e.store.GetByID(ctx, gameID)
	if err != nil {
		return nil, false, err
	}
	if game.Status.Terminal() {
		return nil, false, ErrGameNotActive
	}
	if game.CurrentPosition >= e.cfg.CardsPerGame {
		return nil, false, ErrGameComplete
	}

	current := game.CardRarities[game.CurrentPosition-1]
	next := game.CardRarities[game.CurrentPosition]

	var actual Guess
	switch rarity.Compare(next, current) {
	case 1:
		actual = GuessHigher
	case -1:
		actual = GuessLower
	default:
		actual = GuessEqual
	}

	if guess != actual {
		finished, err := e.store.Finish(ctx, gameID, model.GameStatusLost)
		if err != nil {
			if errors.Is(err, repository.ErrGameNotFound) {
				return nil, false, ErrGameNotActive
			}
			return nil, false, err
		}

		e.logger.Info().
			Int64("game_id", gameID).
			Int("position", game.CurrentPosition).
			Msg("rtb game lost")

		return finished, false, nil
	}

	position := game.CurrentPosition + 1
	status := model.GameStatusActive
	if position == e.cfg.CardsPerGame {
		status = model.GameStatusWon
	}

	updated, err := e.store.Advance(ctx, gameID, position, e.cfg.Multipliers[position], status)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, false, ErrGameNotActive
		}
		return nil, false, err
	}

	if status == model.GameStatusWon {
		e.logger.Info().
			Int64("game_id", gameID).
			Int64("multiplier", updated.CurrentMultiplier).
			Msg("rtb game won")
	}

	return updated, true, nil
}

// CashOut ends an active game and returns the payout. At least one
// correct guess is required; at position 1 the multiplier is still 1x
// and a cash-out would be a no-op payout.
func (e *Engine) CashOut(ctx context.Context, gameID int64) (*model.RideTheBusGame, int64, error) {
	game, err := e.store.GetByID(ctx, gameID)
	if err != nil {
		return nil, 0, err
	}
	if game.Status.Terminal() {
		return nil, 0, ErrGameNotActive
	}
	if game.CurrentPosition < 2 {
		return nil, 0, ErrCashOutTooEarly
	}

	finished, err := e.store.Finish(ctx, gameID, model.GameStatusCashedOut)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, 0, ErrGameNotActive
		}
		return nil, 0, err
	}

	payout := finished.BetAmount * finished.CurrentMultiplier

	e.logger.Info().
		Int64("game_id", gameID).
		Int64("payout", payout).
		Int("position", finished.CurrentPosition).
		Msg("rtb game cashed out")

	return finished, payout, nil
}

// Payout computes the win payout for a finished game.
func (e *Engine) Payout(game *model.RideTheBusGame) int64 {
	return game.BetAmount * game.CurrentMultiplier
}

// GetActive returns the active game for a (user, chat), or nil.
func (e *Engine) GetActive(ctx context.Context, userID, chatID int64) (*model.RideTheBusGame, error) {
	game, err := e.store.GetActive(ctx, userID, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return game, nil
}

// GetByID returns one game.
func (e *Engine) GetByID(ctx context.Context, gameID int64) (*model.RideTheBusGame, error) {
	return e.store.GetByID(ctx, gameID)
}
