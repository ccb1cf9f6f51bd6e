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

// RolledCardRepository handles rolled-card lifecycle persistence.
// The being_rerolled flag is durable so the mutual exclusion survives
// restarts and is visible across processes.
type RolledCardRepository struct {
	pool *pgxpool.Pool
}

// NewRolledCardRepository creates a new RolledCardRepository instance.
func NewRolledCardRepository(pool *pgxpool.Pool) *RolledCardRepository {
	return &RolledCardRepository{pool: pool}
}

const rolledCardColumns = `roll_id, original_card_id, rerolled_card_id, created_at,
	original_roller_id, rerolled, being_rerolled, attempted_by, is_locked, original_rarity`

func scanRolledCard(row pgx.Row) (*model.RolledCard, error) {
	var rc model.RolledCard
	var tier string
	err := row.Scan(
		&rc.RollID,
		&rc.OriginalCardID,
		&rc.RerolledCardID,
		&rc.CreatedAt,
		&rc.OriginalRollerID,
		&rc.Rerolled,
		&rc.BeingRerolled,
		&rc.AttemptedBy,
		&rc.IsLocked,
		&tier,
	)
	if err != nil {
		return nil, err
	}
	rc.OriginalRarity = rarity.Tier(tier)
	return &rc, nil
}

// Create inserts the rolled-card record for a freshly generated card.
func (r *RolledCardRepository) Create(ctx context.Context, cardID, rollerID int64, tier rarity.Tier) (*model.RolledCard, error) {
	const query = `
		INSERT INTO rolled_cards (original_card_id, created_at, original_roller_id,
			rerolled, being_rerolled, attempted_by, is_locked, original_rarity)
		VALUES ($1, NOW(), $2, FALSE, FALSE, '', FALSE, $3)
		RETURNING ` + rolledCardColumns

	rc, err := scanRolledCard(r.pool.QueryRow(ctx, query, cardID, rollerID, string(tier)))
	if err != nil {
		return nil, fmt.Errorf("failed to create rolled card: %w", err)
	}
	return rc, nil
}

// GetByID retrieves a rolled card by its roll ID.
func (r *RolledCardRepository) GetByID(ctx context.Context, rollID int64) (*model.RolledCard, error) {
	const query = `SELECT ` + rolledCardColumns + ` FROM rolled_cards WHERE roll_id = $1`

	rc, err := scanRolledCard(r.pool.QueryRow(ctx, query, rollID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRolledCardNotFound
		}
		return nil, fmt.Errorf("failed to get rolled card: %w", err)
	}
	return rc, nil
}

// GetByCardID retrieves the rolled card fronting the given card, whether
// the card is the original or the reroll replacement.
func (r *RolledCardRepository) GetByCardID(ctx context.Context, cardID int64) (*model.RolledCard, error) {
	const query = `
		SELECT ` + rolledCardColumns + `
		FROM rolled_cards
		WHERE original_card_id = $1 OR rerolled_card_id = $1
	`

	rc, err := scanRolledCard(r.pool.QueryRow(ctx, query, cardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRolledCardNotFound
		}
		return nil, fmt.Errorf("failed to get rolled card by card: %w", err)
	}
	return rc, nil
}

// BeginReroll claims the reroll mutual-exclusion flag as a single
// conditional update. Returns true when this call won the flag; false
// means a reroll is already in flight (or the card was rerolled or
// locked meanwhile) and the attempt must be dropped.
func (r *RolledCardRepository) BeginReroll(ctx context.Context, rollID int64) (bool, error) {
	const query = `
		UPDATE rolled_cards
		SET being_rerolled = TRUE
		WHERE roll_id = $1 AND NOT being_rerolled AND NOT rerolled AND NOT is_locked
	`

	result, err := r.pool.Exec(ctx, query, rollID)
	if err != nil {
		return false, fmt.Errorf("failed to begin reroll: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// AbortReroll clears the in-flight flag after a failed reroll.
func (r *RolledCardRepository) AbortReroll(ctx context.Context, rollID int64) error {
	const query = `UPDATE rolled_cards SET being_rerolled = FALSE WHERE roll_id = $1`

	if _, err := r.pool.Exec(ctx, query, rollID); err != nil {
		return fmt.Errorf("failed to abort reroll: %w", err)
	}
	return nil
}

// CompleteReroll records a successful reroll: the replacement card
// becomes active, the in-flight flag clears, and rerolled becomes final.
func (r *RolledCardRepository) CompleteReroll(ctx context.Context, rollID, newCardID int64) (*model.RolledCard, error) {
	const query = `
		UPDATE rolled_cards
		SET rerolled = TRUE, being_rerolled = FALSE, rerolled_card_id = $2
		WHERE roll_id = $1 AND being_rerolled
		RETURNING ` + rolledCardColumns

	rc, err := scanRolledCard(r.pool.QueryRow(ctx, query, rollID, newCardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRolledCardNotFound
		}
		return nil, fmt.Errorf("failed to complete reroll: %w", err)
	}
	return rc, nil
}

// SetLocked sets the owner's anti-reroll lock on the rolled card.
func (r *RolledCardRepository) SetLocked(ctx context.Context, rollID int64) error {
	const query = `UPDATE rolled_cards SET is_locked = TRUE WHERE roll_id = $1`

	result, err := r.pool.Exec(ctx, query, rollID)
	if err != nil {
		return fmt.Errorf("failed to lock rolled card: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRolledCardNotFound
	}
	return nil
}

// AppendAttemptedBy records a failed claim attempt by username,
// deduplicated inside the update so concurrent attempts cannot
// double-append.
func (r *RolledCardRepository) AppendAttemptedBy(ctx context.Context, rollID int64, username string) error {
	const query = `
		UPDATE rolled_cards
		SET attempted_by = CASE
			WHEN attempted_by = '' THEN $2
			ELSE attempted_by || ',' || $2
		END
		WHERE roll_id = $1
		  AND NOT ($2 = ANY(string_to_array(attempted_by, ',')))
	`

	if _, err := r.pool.Exec(ctx, query, rollID, username); err != nil {
		return fmt.Errorf("failed to record claim attempt: %w", err)
	}
	return nil
}
