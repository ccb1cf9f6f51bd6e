package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-card-bot/internal/model"
)

var (
	// ErrInsufficientBalance is returned when a decrement would drop a
	// counter below zero. The balance is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNegativeAmount is returned when a mutation is called with a
	// negative amount. A negative amount would invert the operation:
	// reduce would credit with an always-true floor predicate, and
	// increment would debit with no floor at all.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// BalanceRepository handles the per-(user, chat) currency counters.
// Every mutation is a single atomic SQL statement; decrements carry a
// floor condition and resolve races via the affected row count.
type BalanceRepository struct {
	pool *pgxpool.Pool
}

// NewBalanceRepository creates a new BalanceRepository instance.
func NewBalanceRepository(pool *pgxpool.Pool) *BalanceRepository {
	return &BalanceRepository{pool: pool}
}

const balanceColumns = "user_id, chat_id, claim_points, spins, megaspins, updated_at"

func scanBalance(row pgx.Row) (*model.ChatBalance, error) {
	var b model.ChatBalance
	err := row.Scan(
		&b.UserID,
		&b.ChatID,
		&b.ClaimPoints,
		&b.Spins,
		&b.Megaspins,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Get retrieves the balance row, creating a zeroed one if absent.
func (r *BalanceRepository) Get(ctx context.Context, userID, chatID int64) (*model.ChatBalance, error) {
	const query = `
		INSERT INTO chat_balances (user_id, chat_id, claim_points, spins, megaspins, updated_at)
		VALUES ($1, $2, 0, 0, 0, NOW())
		ON CONFLICT (user_id, chat_id) DO UPDATE SET user_id = chat_balances.user_id
		RETURNING ` + balanceColumns

	b, err := scanBalance(r.pool.QueryRow(ctx, query, userID, chatID))
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// increment adds amount to one counter, creating the row if needed.
func (r *BalanceRepository) increment(ctx context.Context, userID, chatID int64, column string, amount int64) (*model.ChatBalance, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	const ensure = `
		INSERT INTO chat_balances (user_id, chat_id, claim_points, spins, megaspins, updated_at)
		VALUES ($1, $2, 0, 0, 0, NOW())
		ON CONFLICT (user_id, chat_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, ensure, userID, chatID); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE chat_balances
		SET %s = %s + $3, updated_at = NOW()
		WHERE user_id = $1 AND chat_id = $2
		RETURNING `+balanceColumns, column, column)

	b, err := scanBalance(r.pool.QueryRow(ctx, query, userID, chatID, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return b, nil
}

// reduce subtracts amount from one counter with a zero floor.
// A decrement that would go negative affects no row and returns
// ErrInsufficientBalance, leaving the counter unchanged.
func (r *BalanceRepository) reduce(ctx context.Context, userID, chatID int64, column string, amount int64) (*model.ChatBalance, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	query := fmt.Sprintf(`
		UPDATE chat_balances
		SET %s = %s - $3, updated_at = NOW()
		WHERE user_id = $1 AND chat_id = $2 AND %s >= $3
		RETURNING `+balanceColumns, column, column, column)

	b, err := scanBalance(r.pool.QueryRow(ctx, query, userID, chatID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to reduce %s: %w", column, err)
	}
	return b, nil
}

// IncrementClaimPoints credits claim points.
func (r *BalanceRepository) IncrementClaimPoints(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.increment(ctx, userID, chatID, "claim_points", amount)
}

// ReduceClaimPoints debits claim points with a zero floor.
func (r *BalanceRepository) ReduceClaimPoints(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.reduce(ctx, userID, chatID, "claim_points", amount)
}

// IncrementSpins credits spins.
func (r *BalanceRepository) IncrementSpins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.increment(ctx, userID, chatID, "spins", amount)
}

// ReduceSpins debits spins with a zero floor.
func (r *BalanceRepository) ReduceSpins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.reduce(ctx, userID, chatID, "spins", amount)
}

// IncrementMegaspins credits megaspins.
func (r *BalanceRepository) IncrementMegaspins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.increment(ctx, userID, chatID, "megaspins", amount)
}

// ReduceMegaspins debits megaspins with a zero floor.
func (r *BalanceRepository) ReduceMegaspins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return r.reduce(ctx, userID, chatID, "megaspins", amount)
}
