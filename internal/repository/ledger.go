package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-card-bot/internal/model"
)

// LedgerRepository records every balance mutation for audit and rankings.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Record creates a new ledger entry.
func (r *LedgerRepository) Record(ctx context.Context, userID, chatID int64, currency string, amount int64, entryType string, description *string) (*model.LedgerEntry, error) {
	const query = `
		INSERT INTO balance_ledger (user_id, chat_id, currency, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, user_id, chat_id, currency, amount, type, description, created_at
	`

	var entry model.LedgerEntry
	err := r.pool.QueryRow(ctx, query, userID, chatID, currency, amount, entryType, description).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.ChatID,
		&entry.Currency,
		&entry.Amount,
		&entry.Type,
		&entry.Description,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record ledger entry: %w", err)
	}

	return &entry, nil
}

// GetRecent retrieves a user's recent ledger entries in a chat,
// newest first.
func (r *LedgerRepository) GetRecent(ctx context.Context, userID, chatID int64, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, chat_id, currency, amount, type, description, created_at
		FROM balance_ledger
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.ChatID,
			&entry.Currency,
			&entry.Amount,
			&entry.Type,
			&entry.Description,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// GetDailyNet returns a user's net claim-point and spin movement for a date.
func (r *LedgerRepository) GetDailyNet(ctx context.Context, userID, chatID int64, date time.Time) (claimNet, spinNet int64, err error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	const query = `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE currency = 'claim_points'), 0),
			COALESCE(SUM(amount) FILTER (WHERE currency = 'spins'), 0)
		FROM balance_ledger
		WHERE user_id = $1 AND chat_id = $2
		  AND created_at >= $3
		  AND created_at < $4
	`

	err = r.pool.QueryRow(ctx, query, userID, chatID, startOfDay, endOfDay).Scan(&claimNet, &spinNet)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get daily net: %w", err)
	}

	return claimNet, spinNet, nil
}
