// Package repository provides data access layer implementations.
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

// Common errors for repository operations.
var (
	ErrCardNotFound       = errors.New("card not found")
	ErrRolledCardNotFound = errors.New("rolled card not found")
	ErrGameNotFound       = errors.New("game not found")
)

// CardRepository handles card persistence.
type CardRepository struct {
	pool *pgxpool.Pool
}

// NewCardRepository creates a new CardRepository instance.
func NewCardRepository(pool *pgxpool.Pool) *CardRepository {
	return &CardRepository{pool: pool}
}

const cardColumns = "id, chat_id, title, rarity, owner, owner_id, locked, image_file_id, created_at"

func scanCard(row pgx.Row) (*model.Card, error) {
	var card model.Card
	var tier string
	err := row.Scan(
		&card.ID,
		&card.ChatID,
		&card.Title,
		&tier,
		&card.Owner,
		&card.OwnerID,
		&card.Locked,
		&card.ImageFileID,
		&card.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	card.Rarity = rarity.Tier(tier)
	return &card, nil
}

// Create inserts a new card.
func (r *CardRepository) Create(ctx context.Context, chatID int64, title string, tier rarity.Tier, imageFileID string) (*model.Card, error) {
	const query = `
		INSERT INTO cards (chat_id, title, rarity, owner, owner_id, locked, image_file_id, created_at)
		VALUES ($1, $2, $3, NULL, NULL, FALSE, $4, NOW())
		RETURNING ` + cardColumns

	card, err := scanCard(r.pool.QueryRow(ctx, query, chatID, title, string(tier), imageFileID))
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}
	return card, nil
}

// GetByID retrieves a card by ID.
// Returns ErrCardNotFound if the card does not exist.
func (r *CardRepository) GetByID(ctx context.Context, cardID int64) (*model.Card, error) {
	const query = `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`

	card, err := scanCard(r.pool.QueryRow(ctx, query, cardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return card, nil
}

// ClaimIfUnowned sets the card's owner only if it currently has none.
// Returns true when this call won the claim; false means another claimer
// got there first (or the card does not exist) and the caller must take
// the already-claimed branch.
func (r *CardRepository) ClaimIfUnowned(ctx context.Context, cardID int64, ownerID int64, owner string) (bool, error) {
	const query = `
		UPDATE cards
		SET owner = $2, owner_id = $3
		WHERE id = $1 AND owner IS NULL
	`

	result, err := r.pool.Exec(ctx, query, cardID, owner, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to claim card: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetLocked sets the post-claim lock flag on a card.
func (r *CardRepository) SetLocked(ctx context.Context, cardID int64, locked bool) error {
	const query = `UPDATE cards SET locked = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, cardID, locked)
	if err != nil {
		return fmt.Errorf("failed to set card lock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// SetOwner sets the card's owner unconditionally (admin/transfer path).
func (r *CardRepository) SetOwner(ctx context.Context, cardID int64, ownerID *int64, owner *string) error {
	const query = `UPDATE cards SET owner = $2, owner_id = $3 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, cardID, owner, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set card owner: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// Delete removes a card (burn path).
// Locked cards are never deleted; the conditional update is the guard.
func (r *CardRepository) Delete(ctx context.Context, cardID int64) (bool, error) {
	const query = `DELETE FROM cards WHERE id = $1 AND NOT locked`

	result, err := r.pool.Exec(ctx, query, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to delete card: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateImage replaces a card's image.
func (r *CardRepository) UpdateImage(ctx context.Context, cardID int64, imageFileID string) error {
	const query = `UPDATE cards SET image_file_id = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, cardID, imageFileID)
	if err != nil {
		return fmt.Errorf("failed to update card image: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// CountByChat returns the total number of cards in a chat.
func (r *CardRepository) CountByChat(ctx context.Context, chatID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM cards WHERE chat_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, chatID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return count, nil
}

// RarityCounts returns how many cards of each tier the chat pool holds.
// Tiers with no cards are absent from the map.
func (r *CardRepository) RarityCounts(ctx context.Context, chatID int64) (map[rarity.Tier]int, error) {
	const query = `
		SELECT rarity, COUNT(*)
		FROM cards
		WHERE chat_id = $1
		GROUP BY rarity
	`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cards by rarity: %w", err)
	}
	defer rows.Close()

	counts := make(map[rarity.Tier]int)
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rarity count: %w", err)
		}
		counts[rarity.Tier(tier)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rarity counts: %w", err)
	}

	return counts, nil
}

// SampleRandom selects n distinct cards uniformly at random from the
// chat's full pool.
func (r *CardRepository) SampleRandom(ctx context.Context, chatID int64, n int) ([]*model.Card, error) {
	const query = `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE chat_id = $1
		ORDER BY random()
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample cards: %w", err)
	}
	defer rows.Close()

	var cards []*model.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// GetOwnedByUser lists a user's cards in a chat, newest first.
func (r *CardRepository) GetOwnedByUser(ctx context.Context, chatID int64, owner string, limit int) ([]*model.Card, error) {
	const query = `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE chat_id = $1 AND owner = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, chatID, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get owned cards: %w", err)
	}
	defer rows.Close()

	var cards []*model.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}
