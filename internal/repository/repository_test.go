// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, applyTestSchema(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// applyTestSchema creates the tables the repositories expect.
func applyTestSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			title VARCHAR(255) NOT NULL,
			rarity VARCHAR(20) NOT NULL,
			owner VARCHAR(255),
			owner_id BIGINT,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			image_file_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS rolled_cards (
			roll_id BIGSERIAL PRIMARY KEY,
			original_card_id BIGINT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			rerolled_card_id BIGINT REFERENCES cards(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			original_roller_id BIGINT NOT NULL,
			rerolled BOOLEAN NOT NULL DEFAULT FALSE,
			being_rerolled BOOLEAN NOT NULL DEFAULT FALSE,
			attempted_by TEXT NOT NULL DEFAULT '',
			is_locked BOOLEAN NOT NULL DEFAULT FALSE,
			original_rarity VARCHAR(20) NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_balances (
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			claim_points BIGINT NOT NULL DEFAULT 0,
			spins BIGINT NOT NULL DEFAULT 0,
			megaspins BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, chat_id)
		);

		CREATE TABLE IF NOT EXISTS balance_ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			currency VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS minesweeper_games (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			bet_card_id BIGINT NOT NULL,
			bet_card_title VARCHAR(255) NOT NULL,
			bet_card_rarity VARCHAR(20) NOT NULL,
			mine_positions BIGINT[] NOT NULL,
			claim_point_positions BIGINT[] NOT NULL,
			revealed_cells BIGINT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			moves_count INT NOT NULL DEFAULT 0,
			reward_card_id BIGINT REFERENCES cards(id) ON DELETE SET NULL,
			source_type VARCHAR(20) NOT NULL,
			source_id BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS rtb_games (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			bet_amount BIGINT NOT NULL,
			card_ids BIGINT[] NOT NULL,
			card_rarities VARCHAR(20)[] NOT NULL,
			card_titles TEXT[] NOT NULL,
			current_position INT NOT NULL DEFAULT 1,
			current_multiplier BIGINT NOT NULL DEFAULT 1,
			status VARCHAR(20) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS source_profiles (
			source_type VARCHAR(20) NOT NULL,
			source_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			portrait_file_id TEXT NOT NULL,
			PRIMARY KEY (source_type, source_id, chat_id)
		);
	`)
	return err
}

func TestBalanceDecrementFloor(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBalanceRepository(pool)

	// Get materializes a zeroed row.
	b, err := repo.Get(ctx, 1, -100)
	require.NoError(t, err)
	assert.Zero(t, b.ClaimPoints)

	// Reducing below the floor fails and changes nothing.
	_, err = repo.ReduceClaimPoints(ctx, 1, -100, 5)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	b, err = repo.IncrementClaimPoints(ctx, 1, -100, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.ClaimPoints)

	// Reducing to exactly zero is allowed, one more point is not.
	b, err = repo.ReduceClaimPoints(ctx, 1, -100, 10)
	require.NoError(t, err)
	assert.Zero(t, b.ClaimPoints)

	_, err = repo.ReduceClaimPoints(ctx, 1, -100, 1)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	b, err = repo.Get(ctx, 1, -100)
	require.NoError(t, err)
	assert.Zero(t, b.ClaimPoints)

	// Counters are independent.
	b, err = repo.IncrementSpins(ctx, 1, -100, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Spins)
	_, err = repo.ReduceMegaspins(ctx, 1, -100, 1)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

// Every balance mutation leaves a ledger entry, including the slot
// claim-point win, so a spin's full effect is reconstructible from the
// ledger alone.
func TestLedgerRecordsSpinAndAward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewLedgerRepository(pool)

	spinDesc := "slot spin"
	_, err := repo.Record(ctx, 1, -100, model.CurrencySpins, -1, model.LedgerTypeSlotSpin, &spinDesc)
	require.NoError(t, err)
	awardDesc := "slot claim point win"
	_, err = repo.Record(ctx, 1, -100, model.CurrencyClaimPoints, 1, model.LedgerTypeSlotAward, &awardDesc)
	require.NoError(t, err)

	entries, err := repo.GetRecent(ctx, 1, -100, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	types := []string{entries[0].Type, entries[1].Type}
	assert.Contains(t, types, model.LedgerTypeSlotSpin)
	assert.Contains(t, types, model.LedgerTypeSlotAward)

	claimNet, spinNet, err := repo.GetDailyNet(ctx, 1, -100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimNet)
	assert.Equal(t, int64(-1), spinNet)
}

// A negative amount would invert the operation: the floor predicate
// "spins >= amount" is always true for a negative amount, so a reduce
// would credit, and an increment would debit with no floor. Both sides
// refuse before touching the row.
func TestBalanceNegativeAmountRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBalanceRepository(pool)

	_, err := repo.ReduceSpins(ctx, 1, -100, -5)
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = repo.IncrementSpins(ctx, 1, -100, -5)
	require.ErrorIs(t, err, ErrNegativeAmount)

	b, err := repo.Get(ctx, 1, -100)
	require.NoError(t, err)
	assert.Zero(t, b.Spins, "a rejected mutation must not move the counter")

	// Zero stays a harmless no-op on both paths.
	b, err = repo.IncrementSpins(ctx, 1, -100, 0)
	require.NoError(t, err)
	assert.Zero(t, b.Spins)
	b, err = repo.ReduceSpins(ctx, 1, -100, 0)
	require.NoError(t, err)
	assert.Zero(t, b.Spins)
}

func TestConcurrentClaimOnlyOneWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewCardRepository(pool)

	card, err := repo.Create(ctx, -100, "Test Card", rarity.Common, "file-1")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	wins := make(chan int64, n)
	errs := make(chan error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(userID int64) {
			defer wg.Done()
			won, err := repo.ClaimIfUnowned(ctx, card.ID, userID, "user")
			if err != nil {
				errs <- err
				return
			}
			if won {
				wins <- userID
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(wins)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, wins, 1)

	got, err := repo.GetByID(ctx, card.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, <-wins, *got.OwnerID)
}

func TestBeginRerollMutualExclusion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	cards := NewCardRepository(pool)
	rolls := NewRolledCardRepository(pool)

	card, err := cards.Create(ctx, -100, "Original", rarity.Epic, "file-1")
	require.NoError(t, err)
	roll, err := rolls.Create(ctx, card.ID, 1, rarity.Epic)
	require.NoError(t, err)

	// First acquisition wins, the second sees the flag.
	won, err := rolls.BeginReroll(ctx, roll.RollID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = rolls.BeginReroll(ctx, roll.RollID)
	require.NoError(t, err)
	assert.False(t, won)

	// Aborting frees the flag for a retry.
	require.NoError(t, rolls.AbortReroll(ctx, roll.RollID))
	won, err = rolls.BeginReroll(ctx, roll.RollID)
	require.NoError(t, err)
	assert.True(t, won)

	replacement, err := cards.Create(ctx, -100, "Replacement", rarity.Rare, "file-2")
	require.NoError(t, err)
	done, err := rolls.CompleteReroll(ctx, roll.RollID, replacement.ID)
	require.NoError(t, err)
	assert.True(t, done.Rerolled)
	assert.False(t, done.BeingRerolled)
	assert.Equal(t, replacement.ID, done.ActiveCardID())

	// A rerolled card never accepts a second reroll.
	won, err = rolls.BeginReroll(ctx, roll.RollID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestBeginRerollRefusedWhenLocked(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	cards := NewCardRepository(pool)
	rolls := NewRolledCardRepository(pool)

	card, err := cards.Create(ctx, -100, "Locked", rarity.Rare, "file-1")
	require.NoError(t, err)
	roll, err := rolls.Create(ctx, card.ID, 1, rarity.Rare)
	require.NoError(t, err)
	require.NoError(t, rolls.SetLocked(ctx, roll.RollID))

	won, err := rolls.BeginReroll(ctx, roll.RollID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestApplyRevealConditional(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewMinesweeperRepository(pool)

	game, err := repo.Create(ctx, &model.MinesweeperGame{
		UserID: 1, ChatID: -100,
		BetCardID: 99, BetCardTitle: "Bet", BetCardRarity: rarity.Common,
		MinePositions:       []int64{0, 1},
		ClaimPointPositions: []int64{2},
		SourceType:          model.SourceUser, SourceID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusActive, game.Status)

	updated, err := repo.ApplyReveal(ctx, game.ID, 3, model.GameStatusActive)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, updated.RevealedCells)
	assert.Equal(t, 1, updated.MovesCount)

	// Revealing the same cell again affects no row.
	_, err = repo.ApplyReveal(ctx, game.ID, 3, model.GameStatusActive)
	require.ErrorIs(t, err, ErrGameNotFound)

	// A terminal transition sticks and blocks all later reveals.
	updated, err = repo.ApplyReveal(ctx, game.ID, 0, model.GameStatusLost)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusLost, updated.Status)

	_, err = repo.ApplyReveal(ctx, game.ID, 4, model.GameStatusActive)
	require.ErrorIs(t, err, ErrGameNotFound)

	got, err := repo.GetByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusLost, got.Status)
	assert.Equal(t, 2, got.MovesCount)
}

func TestRideTheBusLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewRideTheBusRepository(pool)

	game, err := repo.Create(ctx, &model.RideTheBusGame{
		UserID: 1, ChatID: -100, BetAmount: 10,
		CardIDs:           []int64{1, 2, 3, 4, 5},
		CardRarities:      []rarity.Tier{rarity.Common, rarity.Rare, rarity.Rare, rarity.Epic, rarity.Common},
		CardTitles:        []string{"a", "b", "c", "d", "e"},
		CurrentMultiplier: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, game.CurrentPosition)

	active, err := repo.GetActive(ctx, 1, -100)
	require.NoError(t, err)
	assert.Equal(t, game.ID, active.ID)

	advanced, err := repo.Advance(ctx, game.ID, 2, 2, model.GameStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 2, advanced.CurrentPosition)
	assert.Equal(t, int64(2), advanced.CurrentMultiplier)

	finished, err := repo.Finish(ctx, game.ID, model.GameStatusCashedOut)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusCashedOut, finished.Status)

	// Terminal games accept no further transitions and are not active.
	_, err = repo.Advance(ctx, game.ID, 3, 3, model.GameStatusActive)
	require.ErrorIs(t, err, ErrGameNotFound)
	_, err = repo.GetActive(ctx, 1, -100)
	require.ErrorIs(t, err, ErrGameNotFound)
}

func TestCardDeleteLockedGuard(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewCardRepository(pool)

	card, err := repo.Create(ctx, -100, "Burnable", rarity.Common, "file-1")
	require.NoError(t, err)
	require.NoError(t, repo.SetLocked(ctx, card.ID, true))

	deleted, err := repo.Delete(ctx, card.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, repo.SetLocked(ctx, card.ID, false))
	deleted, err = repo.Delete(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.GetByID(ctx, card.ID)
	require.ErrorIs(t, err, ErrCardNotFound)
}

func TestAppendAttemptedByDeduplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	cards := NewCardRepository(pool)
	rolls := NewRolledCardRepository(pool)

	card, err := cards.Create(ctx, -100, "Wanted", rarity.Rare, "file-1")
	require.NoError(t, err)
	roll, err := rolls.Create(ctx, card.ID, 1, rarity.Rare)
	require.NoError(t, err)

	require.NoError(t, rolls.AppendAttemptedBy(ctx, roll.RollID, "alice"))
	require.NoError(t, rolls.AppendAttemptedBy(ctx, roll.RollID, "bob"))
	require.NoError(t, rolls.AppendAttemptedBy(ctx, roll.RollID, "alice"))

	got, err := rolls.GetByID(ctx, roll.RollID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.AttemptedByList())
}

func TestSourceProfileUpsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewSourceRepository(pool)

	// No eligible profile yet.
	p, err := repo.SelectRandomWithImage(ctx, -100)
	require.NoError(t, err)
	assert.Nil(t, p)

	profile := &model.SourceProfile{
		Type: model.SourceUser, ID: 42, ChatID: -100,
		DisplayName: "Alice", PortraitFileID: "portrait-1",
	}
	require.NoError(t, repo.Upsert(ctx, profile))

	// Upsert on the same key replaces, it does not duplicate.
	profile.PortraitFileID = "portrait-2"
	require.NoError(t, repo.Upsert(ctx, profile))

	p, err = repo.SelectRandomWithImage(ctx, -100)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "portrait-2", p.PortraitFileID)

	got, err := repo.Get(ctx, model.SourceUser, 42, -100)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	// The same source id in another chat is an independent profile;
	// the primary key carries the chat scope.
	other := &model.SourceProfile{
		Type: model.SourceUser, ID: 42, ChatID: -200,
		DisplayName: "Alice Elsewhere", PortraitFileID: "portrait-3",
	}
	require.NoError(t, repo.Upsert(ctx, other))

	got, err = repo.Get(ctx, model.SourceUser, 42, -100)
	require.NoError(t, err)
	assert.Equal(t, "portrait-2", got.PortraitFileID)
	got, err = repo.Get(ctx, model.SourceUser, 42, -200)
	require.NoError(t, err)
	assert.Equal(t, "portrait-3", got.PortraitFileID)
}
