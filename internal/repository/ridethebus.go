package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
)

// RideTheBusRepository handles ride-the-bus game persistence.
// Games are never deleted; terminal rows serve as an audit trail.
type RideTheBusRepository struct {
	pool *pgxpool.Pool
}

// NewRideTheBusRepository creates a new RideTheBusRepository instance.
func NewRideTheBusRepository(pool *pgxpool.Pool) *RideTheBusRepository {
	return &RideTheBusRepository{pool: pool}
}

const rtbColumns = `id, user_id, chat_id, bet_amount, card_ids, card_rarities, card_titles,
	current_position, current_multiplier, status, started_at, updated_at`

func scanRTBGame(row pgx.Row) (*model.RideTheBusGame, error) {
	var g model.RideTheBusGame
	var rarities []string
	var status string
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.ChatID,
		&g.BetAmount,
		&g.CardIDs,
		&rarities,
		&g.CardTitles,
		&g.CurrentPosition,
		&g.CurrentMultiplier,
		&status,
		&g.StartedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.CardRarities = make([]rarity.Tier, len(rarities))
	for i, s := range rarities {
		g.CardRarities[i] = rarity.Tier(s)
	}
	g.Status = model.GameStatus(status)
	return &g, nil
}

// Create inserts a new active game with its immutable 5-card draw.
func (r *RideTheBusRepository) Create(ctx context.Context, g *model.RideTheBusGame) (*model.RideTheBusGame, error) {
	rarities := make([]string, len(g.CardRarities))
	for i, t := range g.CardRarities {
		rarities[i] = string(t)
	}

	const query = `
		INSERT INTO rtb_games (user_id, chat_id, bet_amount, card_ids, card_rarities,
			card_titles, current_position, current_multiplier, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, 'active', NOW(), NOW())
		RETURNING ` + rtbColumns

	game, err := scanRTBGame(r.pool.QueryRow(ctx, query,
		g.UserID, g.ChatID, g.BetAmount, g.CardIDs, rarities, g.CardTitles, g.CurrentMultiplier,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create rtb game: %w", err)
	}
	return game, nil
}

// GetByID retrieves a game by ID.
func (r *RideTheBusRepository) GetByID(ctx context.Context, gameID int64) (*model.RideTheBusGame, error) {
	const query = `SELECT ` + rtbColumns + ` FROM rtb_games WHERE id = $1`

	game, err := scanRTBGame(r.pool.QueryRow(ctx, query, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get rtb game: %w", err)
	}
	return game, nil
}

// GetActive retrieves the active game for a (user, chat), if any.
func (r *RideTheBusRepository) GetActive(ctx context.Context, userID, chatID int64) (*model.RideTheBusGame, error) {
	const query = `
		SELECT ` + rtbColumns + `
		FROM rtb_games
		WHERE user_id = $1 AND chat_id = $2 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1
	`

	game, err := scanRTBGame(r.pool.QueryRow(ctx, query, userID, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get active rtb game: %w", err)
	}
	return game, nil
}

// Advance records a guess outcome: new position, table multiplier and
// status, applied only while the game is active. Zero rows affected
// means a concurrent operation already resolved the game.
func (r *RideTheBusRepository) Advance(ctx context.Context, gameID int64, position int, multiplier int64, status model.GameStatus) (*model.RideTheBusGame, error) {
	const query = `
		UPDATE rtb_games
		SET current_position = $2, current_multiplier = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + rtbColumns

	game, err := scanRTBGame(r.pool.QueryRow(ctx, query, gameID, position, multiplier, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to advance rtb game: %w", err)
	}
	return game, nil
}

// Finish moves an active game to a terminal status without touching
// position or multiplier (loss and cash-out paths).
func (r *RideTheBusRepository) Finish(ctx context.Context, gameID int64, status model.GameStatus) (*model.RideTheBusGame, error) {
	const query = `
		UPDATE rtb_games
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + rtbColumns

	game, err := scanRTBGame(r.pool.QueryRow(ctx, query, gameID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to finish rtb game: %w", err)
	}
	return game, nil
}
