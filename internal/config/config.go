// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"telegram-card-bot/internal/rarity"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Rarity    RarityConfig    `mapstructure:"rarity"`
	Games     GamesConfig     `mapstructure:"games"`
	Debug     bool            `mapstructure:"debug"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// GeneratorConfig holds card-art generator configuration.
type GeneratorConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// WhitelistConfig holds chat whitelist and admin configuration.
type WhitelistConfig struct {
	Chats  []int64 `mapstructure:"chats"`
	Admins []int64 `mapstructure:"admins"`
}

// RarityConfig holds per-tier reward table overrides.
// Tiers absent from the config keep their defaults.
type RarityConfig struct {
	Tiers map[string]RarityTierConfig `mapstructure:"tiers"`
}

// RarityTierConfig overrides one tier's reward-table entry.
type RarityTierConfig struct {
	Weight     int   `mapstructure:"weight"`
	ClaimCost  int64 `mapstructure:"claim_cost"`
	LockCost   int64 `mapstructure:"lock_cost"`
	SpinReward int64 `mapstructure:"spin_reward"`
}

// GamesConfig holds game-specific configuration.
type GamesConfig struct {
	Roll        RollConfig        `mapstructure:"roll"`
	Minesweeper MinesweeperConfig `mapstructure:"minesweeper"`
	Slots       SlotsConfig       `mapstructure:"slots"`
	RideTheBus  RideTheBusConfig  `mapstructure:"ridethebus"`
}

// RollConfig holds rolled-card lifecycle configuration.
type RollConfig struct {
	RerollWindow time.Duration `mapstructure:"reroll_window"`
}

// MinesweeperConfig holds minesweeper game configuration.
type MinesweeperConfig struct {
	MineCount       int           `mapstructure:"mine_count"`
	ClaimPointCount int           `mapstructure:"claim_point_count"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	DebugCooldown   time.Duration `mapstructure:"debug_cooldown"`
}

// SlotsConfig holds slot machine configuration.
type SlotsConfig struct {
	WinChance        float64 `mapstructure:"win_chance"`
	ClaimChance      float64 `mapstructure:"claim_chance"`
	DebugWinChance   float64 `mapstructure:"debug_win_chance"`
	DebugClaimChance float64 `mapstructure:"debug_claim_chance"`
}

// RideTheBusConfig holds ride-the-bus configuration.
type RideTheBusConfig struct {
	MinBet       int64 `mapstructure:"min_bet"`
	MaxBet       int64 `mapstructure:"max_bet"`
	CardsPerGame int   `mapstructure:"cards_per_game"`
	MinPoolSize  int   `mapstructure:"min_pool_size"`
	// Multipliers is keyed by current_position (1-indexed); entry 0 is unused.
	Multipliers []int64 `mapstructure:"multipliers"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, DATABASE_HOST, GAMES_MINESWEEPER_MINE_COUNT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cardbot")
	v.SetDefault("database.name", "cardbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Generator defaults
	v.SetDefault("generator.timeout", "30s")
	v.SetDefault("generator.max_retries", 3)

	// Game defaults
	v.SetDefault("games.roll.reroll_window", "5m")
	v.SetDefault("games.minesweeper.mine_count", 2)
	v.SetDefault("games.minesweeper.claim_point_count", 1)
	v.SetDefault("games.minesweeper.cooldown", "24h")
	v.SetDefault("games.minesweeper.debug_cooldown", "60s")
	v.SetDefault("games.slots.win_chance", 0.05)
	v.SetDefault("games.slots.claim_chance", 0.10)
	v.SetDefault("games.slots.debug_win_chance", 0.5)
	v.SetDefault("games.slots.debug_claim_chance", 0.5)
	v.SetDefault("games.ridethebus.min_bet", 10)
	v.SetDefault("games.ridethebus.max_bet", 50)
	v.SetDefault("games.ridethebus.cards_per_game", 5)
	v.SetDefault("games.ridethebus.min_pool_size", 20)
	v.SetDefault("games.ridethebus.multipliers", []int64{0, 1, 2, 3, 5, 10})
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Whitelist.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// RarityTable builds the effective reward table: defaults overlaid with
// any per-tier overrides from the config file.
func (c *Config) RarityTable() rarity.Table {
	table := rarity.Default()
	for name, override := range c.Rarity.Tiers {
		tier, err := rarity.Parse(name)
		if err != nil {
			continue
		}
		entry := table[tier]
		if override.Weight > 0 {
			entry.Weight = override.Weight
		}
		if override.ClaimCost > 0 {
			entry.ClaimCost = override.ClaimCost
		}
		if override.LockCost > 0 {
			entry.LockCost = override.LockCost
		}
		if override.SpinReward > 0 {
			entry.SpinReward = override.SpinReward
		}
		table[tier] = entry
	}
	return table
}

// MinesweeperCooldown returns the active cooldown window,
// shortened in debug mode.
func (c *Config) MinesweeperCooldown() time.Duration {
	if c.Debug {
		return c.Games.Minesweeper.DebugCooldown
	}
	return c.Games.Minesweeper.Cooldown
}

// SlotWinChance returns the active per-spin card-win chance.
func (c *Config) SlotWinChance() float64 {
	if c.Debug {
		return c.Games.Slots.DebugWinChance
	}
	return c.Games.Slots.WinChance
}

// SlotClaimChance returns the active per-spin claim-win chance.
func (c *Config) SlotClaimChance() float64 {
	if c.Debug {
		return c.Games.Slots.DebugClaimChance
	}
	return c.Games.Slots.ClaimChance
}
