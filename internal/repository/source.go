package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-card-bot/internal/model"
)

// SourceRepository handles source-profile persistence. A source profile
// is a chat user or character whose portrait seeds generated card art.
type SourceRepository struct {
	pool *pgxpool.Pool
}

// NewSourceRepository creates a new SourceRepository instance.
func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{pool: pool}
}

// Upsert registers or refreshes a source profile.
func (r *SourceRepository) Upsert(ctx context.Context, p *model.SourceProfile) error {
	const query = `
		INSERT INTO source_profiles (source_type, source_id, chat_id, display_name, portrait_file_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_type, source_id, chat_id)
		DO UPDATE SET display_name = $4, portrait_file_id = $5
	`

	_, err := r.pool.Exec(ctx, query, string(p.Type), p.ID, p.ChatID, p.DisplayName, p.PortraitFileID)
	if err != nil {
		return fmt.Errorf("failed to upsert source profile: %w", err)
	}
	return nil
}

// SelectRandomWithImage picks one random profile in the chat that has
// generated art. Returns nil when the chat has no eligible profile.
func (r *SourceRepository) SelectRandomWithImage(ctx context.Context, chatID int64) (*model.SourceProfile, error) {
	const query = `
		SELECT source_type, source_id, chat_id, display_name, portrait_file_id
		FROM source_profiles
		WHERE chat_id = $1 AND portrait_file_id <> ''
		ORDER BY random()
		LIMIT 1
	`

	var p model.SourceProfile
	var sourceType string
	err := r.pool.QueryRow(ctx, query, chatID).Scan(
		&sourceType,
		&p.ID,
		&p.ChatID,
		&p.DisplayName,
		&p.PortraitFileID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select source profile: %w", err)
	}
	p.Type = model.SourceType(sourceType)

	return &p, nil
}

// Get retrieves one profile by its composite key.
func (r *SourceRepository) Get(ctx context.Context, sourceType model.SourceType, sourceID, chatID int64) (*model.SourceProfile, error) {
	const query = `
		SELECT source_type, source_id, chat_id, display_name, portrait_file_id
		FROM source_profiles
		WHERE source_type = $1 AND source_id = $2 AND chat_id = $3
	`

	var p model.SourceProfile
	var st string
	err := r.pool.QueryRow(ctx, query, string(sourceType), sourceID, chatID).Scan(
		&st,
		&p.ID,
		&p.ChatID,
		&p.DisplayName,
		&p.PortraitFileID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source profile: %w", err)
	}
	p.Type = model.SourceType(st)

	return &p, nil
}
