// Package model defines the data models for the Telegram card bot.
package model

import (
	"strings"
	"time"

	"telegram-card-bot/internal/rarity"
)

// Card represents a generated collectible card in a chat.
type Card struct {
	ID          int64       `db:"id"`
	ChatID      int64       `db:"chat_id"`
	Title       string      `db:"title"`
	Rarity      rarity.Tier `db:"rarity"`
	Owner       *string     `db:"owner"`    // username, nil while unclaimed
	OwnerID     *int64      `db:"owner_id"` // Telegram user ID, set together with Owner
	Locked      bool        `db:"locked"`
	ImageFileID string      `db:"image_file_id"`
	CreatedAt   time.Time   `db:"created_at"`
}

// RolledCard tracks the post-roll state of exactly one generated card.
// The active card is RerolledCardID when Rerolled, OriginalCardID otherwise.
type RolledCard struct {
	RollID           int64       `db:"roll_id"`
	OriginalCardID   int64       `db:"original_card_id"`
	RerolledCardID   *int64      `db:"rerolled_card_id"`
	CreatedAt        time.Time   `db:"created_at"` // anchors the reroll window
	OriginalRollerID int64       `db:"original_roller_id"`
	Rerolled         bool        `db:"rerolled"`
	BeingRerolled    bool        `db:"being_rerolled"`
	AttemptedBy      string      `db:"attempted_by"` // comma-joined usernames who tried to claim after it was taken
	IsLocked         bool        `db:"is_locked"`
	OriginalRarity   rarity.Tier `db:"original_rarity"`
}

// ActiveCardID returns the card the RolledCard currently fronts.
func (rc *RolledCard) ActiveCardID() int64 {
	if rc.Rerolled && rc.RerolledCardID != nil {
		return *rc.RerolledCardID
	}
	return rc.OriginalCardID
}

// AttemptedByList splits the comma-joined attempted_by field.
func (rc *RolledCard) AttemptedByList() []string {
	if rc.AttemptedBy == "" {
		return nil
	}
	return strings.Split(rc.AttemptedBy, ",")
}

// GameStatus is the lifecycle status of a minigame.
type GameStatus string

const (
	GameStatusActive    GameStatus = "active"
	GameStatusWon       GameStatus = "won"
	GameStatusLost      GameStatus = "lost"
	GameStatusCashedOut GameStatus = "cashed_out"
	// GameStatusExpired is only ever set by the external cleanup job;
	// the engines treat stale terminal games as absent instead.
	GameStatusExpired GameStatus = "expired"
)

// Terminal reports whether the status accepts no further moves.
func (s GameStatus) Terminal() bool {
	return s != GameStatusActive
}

// MinesweeperGame is one bet-and-reveal game on a 9-cell grid,
// at most one active-or-recent game per (user, chat).
type MinesweeperGame struct {
	ID                  int64       `db:"id"`
	UserID              int64       `db:"user_id"`
	ChatID              int64       `db:"chat_id"`
	BetCardID           int64       `db:"bet_card_id"`
	BetCardTitle        string      `db:"bet_card_title"` // snapshot, survives card deletion
	BetCardRarity       rarity.Tier `db:"bet_card_rarity"`
	MinePositions       []int64     `db:"mine_positions"`
	ClaimPointPositions []int64     `db:"claim_point_positions"`
	RevealedCells       []int64     `db:"revealed_cells"`
	Status              GameStatus  `db:"status"`
	MovesCount          int         `db:"moves_count"`
	RewardCardID        *int64      `db:"reward_card_id"`
	SourceType          SourceType  `db:"source_type"`
	SourceID            int64       `db:"source_id"`
	StartedAt           time.Time   `db:"started_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

// RideTheBusGame is one 5-card sequential guessing game,
// at most one active game per (user, chat). Terminal games are kept
// as an audit trail and never deleted.
type RideTheBusGame struct {
	ID                int64         `db:"id"`
	UserID            int64         `db:"user_id"`
	ChatID            int64         `db:"chat_id"`
	BetAmount         int64         `db:"bet_amount"`
	CardIDs           []int64       `db:"card_ids"` // 5 cards, ordered, immutable
	CardRarities      []rarity.Tier `db:"card_rarities"`
	CardTitles        []string      `db:"card_titles"`
	CurrentPosition   int           `db:"current_position"` // 1-indexed cards passed
	CurrentMultiplier int64         `db:"current_multiplier"`
	Status            GameStatus    `db:"status"`
	StartedAt         time.Time     `db:"started_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// SourceType discriminates the two backing entities a card's artwork
// can be generated from.
type SourceType string

const (
	SourceUser      SourceType = "user"
	SourceCharacter SourceType = "character"
)

// SourceProfile is a user or character whose portrait seeds generated card art.
type SourceProfile struct {
	Type           SourceType `db:"source_type"`
	ID             int64      `db:"source_id"`
	ChatID         int64      `db:"chat_id"`
	DisplayName    string     `db:"display_name"`
	PortraitFileID string     `db:"portrait_file_id"`
}

// ChatBalance holds the per-(user, chat) currency counters.
type ChatBalance struct {
	UserID      int64     `db:"user_id"`
	ChatID      int64     `db:"chat_id"`
	ClaimPoints int64     `db:"claim_points"`
	Spins       int64     `db:"spins"`
	Megaspins   int64     `db:"megaspins"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// LedgerEntry records one balance mutation.
type LedgerEntry struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	ChatID      int64     `db:"chat_id"`
	Currency    string    `db:"currency"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Currencies tracked in the ledger.
const (
	CurrencyClaimPoints = "claim_points"
	CurrencySpins       = "spins"
	CurrencyMegaspins   = "megaspins"
)

// Ledger entry types for categorizing balance changes.
const (
	LedgerTypeClaimCost    = "claim_cost"
	LedgerTypeLockCost     = "lock_cost"
	LedgerTypeRerollRefund = "reroll_refund"
	LedgerTypeMinesAward   = "mines_award"
	LedgerTypeRTBBet       = "rtb_bet"
	LedgerTypeRTBPayout    = "rtb_payout"
	LedgerTypeSlotSpin     = "slot_spin"
	LedgerTypeSlotAward    = "slot_award"
	LedgerTypeMegaspin     = "megaspin"
	LedgerTypeBurnReward   = "burn_reward"
	LedgerTypeRollSpin     = "roll_spin"
	LedgerTypeAdminGrant   = "admin_grant"
)
