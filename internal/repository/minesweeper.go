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

// MinesweeperRepository handles minesweeper game persistence.
type MinesweeperRepository struct {
	pool *pgxpool.Pool
}

// NewMinesweeperRepository creates a new MinesweeperRepository instance.
func NewMinesweeperRepository(pool *pgxpool.Pool) *MinesweeperRepository {
	return &MinesweeperRepository{pool: pool}
}

const minesweeperColumns = `id, user_id, chat_id, bet_card_id, bet_card_title, bet_card_rarity,
	mine_positions, claim_point_positions, revealed_cells, status, moves_count,
	reward_card_id, source_type, source_id, started_at, updated_at`

func scanMinesweeperGame(row pgx.Row) (*model.MinesweeperGame, error) {
	var g model.MinesweeperGame
	var tier, status, sourceType string
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.ChatID,
		&g.BetCardID,
		&g.BetCardTitle,
		&tier,
		&g.MinePositions,
		&g.ClaimPointPositions,
		&g.RevealedCells,
		&status,
		&g.MovesCount,
		&g.RewardCardID,
		&sourceType,
		&g.SourceID,
		&g.StartedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.BetCardRarity = rarity.Tier(tier)
	g.Status = model.GameStatus(status)
	g.SourceType = model.SourceType(sourceType)
	return &g, nil
}

// Create inserts a new active game.
func (r *MinesweeperRepository) Create(ctx context.Context, g *model.MinesweeperGame) (*model.MinesweeperGame, error) {
	const query = `
		INSERT INTO minesweeper_games (user_id, chat_id, bet_card_id, bet_card_title,
			bet_card_rarity, mine_positions, claim_point_positions, revealed_cells,
			status, moves_count, source_type, source_id, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}', 'active', 0, $8, $9, NOW(), NOW())
		RETURNING ` + minesweeperColumns

	game, err := scanMinesweeperGame(r.pool.QueryRow(ctx, query,
		g.UserID, g.ChatID, g.BetCardID, g.BetCardTitle, string(g.BetCardRarity),
		g.MinePositions, g.ClaimPointPositions, string(g.SourceType), g.SourceID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create minesweeper game: %w", err)
	}
	return game, nil
}

// GetByID retrieves a game by ID.
func (r *MinesweeperRepository) GetByID(ctx context.Context, gameID int64) (*model.MinesweeperGame, error) {
	const query = `SELECT ` + minesweeperColumns + ` FROM minesweeper_games WHERE id = $1`

	game, err := scanMinesweeperGame(r.pool.QueryRow(ctx, query, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get minesweeper game: %w", err)
	}
	return game, nil
}

// GetLatest retrieves the most recent game for a (user, chat) regardless
// of status. Availability windows are derived by the engine, not here.
func (r *MinesweeperRepository) GetLatest(ctx context.Context, userID, chatID int64) (*model.MinesweeperGame, error) {
	const query = `
		SELECT ` + minesweeperColumns + `
		FROM minesweeper_games
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	game, err := scanMinesweeperGame(r.pool.QueryRow(ctx, query, userID, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get latest minesweeper game: %w", err)
	}
	return game, nil
}

// ApplyReveal records one cell reveal and the resulting status as a
// single conditional update. It only succeeds while the game is active
// and the cell is unrevealed; zero rows affected means a concurrent
// reveal or terminal state won, and the caller re-reads instead.
func (r *MinesweeperRepository) ApplyReveal(ctx context.Context, gameID int64, cell int64, status model.GameStatus) (*model.MinesweeperGame, error) {
	const query = `
		UPDATE minesweeper_games
		SET revealed_cells = array_append(revealed_cells, $2),
			moves_count = moves_count + 1,
			status = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND NOT ($2 = ANY(revealed_cells))
		RETURNING ` + minesweeperColumns

	game, err := scanMinesweeperGame(r.pool.QueryRow(ctx, query, gameID, cell, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to apply reveal: %w", err)
	}
	return game, nil
}

// SetRewardCard attaches the generated reward card to a won game.
func (r *MinesweeperRepository) SetRewardCard(ctx context.Context, gameID, cardID int64) error {
	const query = `
		UPDATE minesweeper_games
		SET reward_card_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'won'
	`

	result, err := r.pool.Exec(ctx, query, gameID, cardID)
	if err != nil {
		return fmt.Errorf("failed to set reward card: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}
