// Package main is the entry point for the Telegram card game bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-card-bot/internal/bot"
	"telegram-card-bot/internal/cardgen"
	"telegram-card-bot/internal/config"
	"telegram-card-bot/internal/game"
	"telegram-card-bot/internal/game/minesweeper"
	"telegram-card-bot/internal/game/ridethebus"
	"telegram-card-bot/internal/game/rolled"
	"telegram-card-bot/internal/game/slots"
	"telegram-card-bot/internal/handler"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/pkg/db"
	"telegram-card-bot/internal/repository"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("Debug mode enabled: short cooldowns and boosted slot odds")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	cardRepo := repository.NewCardRepository(dbPool.Pool)
	rollRepo := repository.NewRolledCardRepository(dbPool.Pool)
	balanceRepo := repository.NewBalanceRepository(dbPool.Pool)
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)
	sourceRepo := repository.NewSourceRepository(dbPool.Pool)
	minesRepo := repository.NewMinesweeperRepository(dbPool.Pool)
	rtbRepo := repository.NewRideTheBusRepository(dbPool.Pool)

	// Card-art generation client and rarity table
	generator := cardgen.NewClient(cfg.Generator.BaseURL, cfg.Generator.Timeout)
	rarityTable := cfg.RarityTable()

	// In-memory guard against duplicate in-flight actions
	guard := actionguard.New()

	// Rolled-card lifecycle manager
	rollManager := rolled.New(
		cardRepo, rollRepo, balanceRepo, ledgerRepo, sourceRepo,
		generator, rarityTable,
		rolled.Config{
			RerollWindow: cfg.Games.Roll.RerollWindow,
			MaxRetries:   cfg.Generator.MaxRetries,
		},
		log.Logger,
	)

	// Minesweeper engine
	minesEngine, err := minesweeper.New(minesRepo, sourceRepo, minesweeper.Config{
		MineCount:       cfg.Games.Minesweeper.MineCount,
		ClaimPointCount: cfg.Games.Minesweeper.ClaimPointCount,
		Cooldown:        cfg.MinesweeperCooldown(),
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create minesweeper engine")
	}

	// Ride-the-bus engine
	rtbEngine, err := ridethebus.New(rtbRepo, cardRepo, ridethebus.Config{
		MinBet:       cfg.Games.RideTheBus.MinBet,
		MaxBet:       cfg.Games.RideTheBus.MaxBet,
		CardsPerGame: cfg.Games.RideTheBus.CardsPerGame,
		MinPoolSize:  cfg.Games.RideTheBus.MinPoolSize,
		Multipliers:  cfg.Games.RideTheBus.Multipliers,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ride-the-bus engine")
	}

	// Slots resolver
	slotsResolver := slots.New(rarityTable)

	// Register card-betting games
	registry := game.NewRegistry()
	if err := registry.Register(minesEngine); err != nil {
		log.Fatal().Err(err).Msg("Failed to register minesweeper")
	}
	if err := registry.Register(rtbEngine); err != nil {
		log.Fatal().Err(err).Msg("Failed to register ride-the-bus")
	}

	log.Info().
		Int("game_count", registry.Count()).
		Msg("Games registered")

	// Create bot dependencies
	deps := &bot.Dependencies{
		Config:   cfg,
		Registry: registry,
		RollHandler: handler.NewRollHandler(
			rollManager, cardRepo, guard,
		),
		MinesHandler: handler.NewMinesweeperHandler(
			minesEngine, rollManager, cardRepo, sourceRepo,
			balanceRepo, ledgerRepo, rarityTable, guard,
		),
		RTBHandler: handler.NewRideTheBusHandler(
			rtbEngine, balanceRepo, ledgerRepo, guard,
		),
		SlotsHandler: handler.NewSlotsHandler(
			cfg, slotsResolver, rollManager, sourceRepo,
			balanceRepo, ledgerRepo, guard,
		),
		AccountHandler: handler.NewAccountHandler(
			cardRepo, balanceRepo, ledgerRepo, rarityTable, guard,
		),
		SourceHandler: handler.NewSourceHandler(sourceRepo),
	}

	// Initialize bot
	telegramBot, err := bot.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create cards table
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
		CREATE INDEX IF NOT EXISTS idx_cards_chat ON cards(chat_id);
		CREATE INDEX IF NOT EXISTS idx_cards_chat_owner ON cards(chat_id, owner);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: cards table created")

	// Migration 2: Create rolled_cards table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_rolled_cards_original ON rolled_cards(original_card_id);
		CREATE INDEX IF NOT EXISTS idx_rolled_cards_rerolled ON rolled_cards(rerolled_card_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: rolled_cards table created")

	// Migration 3: Create chat_balances table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_balances (
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			claim_points BIGINT NOT NULL DEFAULT 0,
			spins BIGINT NOT NULL DEFAULT 0,
			megaspins BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, chat_id)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: chat_balances table created")

	// Migration 4: Create balance_ledger table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_balance_ledger_user_time ON balance_ledger(user_id, chat_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: balance_ledger table created")

	// Migration 5: Create minesweeper_games table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_minesweeper_user_chat ON minesweeper_games(user_id, chat_id, started_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: minesweeper_games table created")

	// Migration 6: Create rtb_games table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_rtb_user_chat_status ON rtb_games(user_id, chat_id, status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 6: rtb_games table created")

	// Migration 7: Create source_profiles table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS source_profiles (
			source_type VARCHAR(20) NOT NULL,
			source_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			portrait_file_id TEXT NOT NULL,
			PRIMARY KEY (source_type, source_id, chat_id)
		);
		CREATE INDEX IF NOT EXISTS idx_source_profiles_chat ON source_profiles(chat_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 7: source_profiles table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
