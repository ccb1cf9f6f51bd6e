// Package rolled manages the post-roll lifecycle of a generated card:
// claiming, locking and the single-use timed reroll. All transitions on
// one rolled card resolve deterministically under concurrent requests.
package rolled

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"telegram-card-bot/internal/cardgen"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
	"telegram-card-bot/internal/repository"
)

// Validation failures surfaced to callers as branch conditions.
var (
	ErrNotRoller           = errors.New("only the original roller may reroll")
	ErrNotOwner            = errors.New("only the card owner may do this")
	ErrAlreadyRerolled     = errors.New("card has already been rerolled")
	ErrCardLocked          = errors.New("card is locked")
	ErrRerollInFlight      = errors.New("a reroll is already in progress")
	ErrRerollWindowExpired = errors.New("the reroll window has expired")
)

// Identity carries the two ways Telegram identifies a user: the stable
// numeric ID (balances) and the username (card ownership display).
type Identity struct {
	UserID   int64
	Username string
}

// ClaimResult is the outcome of a claim attempt.
type ClaimResult int

const (
	ClaimSuccess ClaimResult = iota
	// ClaimAlreadyOwned: the claimer already owns the card; no re-charge.
	ClaimAlreadyOwned
	// ClaimTaken: someone else owns it; the attempt is recorded.
	ClaimTaken
	// ClaimInsufficientBalance: not enough claim points; nothing mutated.
	ClaimInsufficientBalance
	// ClaimUnavailable: a reroll is in flight; the attempt is dropped.
	ClaimUnavailable
)

// CardStore is the card persistence surface the manager needs.
type CardStore interface {
	Create(ctx context.Context, chatID int64, title string, tier rarity.Tier, imageFileID string) (*model.Card, error)
	GetByID(ctx context.Context, cardID int64) (*model.Card, error)
	ClaimIfUnowned(ctx context.Context, cardID int64, ownerID int64, owner string) (bool, error)
	SetOwner(ctx context.Context, cardID int64, ownerID *int64, owner *string) error
	SetLocked(ctx context.Context, cardID int64, locked bool) error
}

// RollStore is the rolled-card persistence surface.
type RollStore interface {
	Create(ctx context.Context, cardID, rollerID int64, tier rarity.Tier) (*model.RolledCard, error)
	GetByID(ctx context.Context, rollID int64) (*model.RolledCard, error)
	GetByCardID(ctx context.Context, cardID int64) (*model.RolledCard, error)
	BeginReroll(ctx context.Context, rollID int64) (bool, error)
	AbortReroll(ctx context.Context, rollID int64) error
	CompleteReroll(ctx context.Context, rollID, newCardID int64) (*model.RolledCard, error)
	SetLocked(ctx context.Context, rollID int64) error
	AppendAttemptedBy(ctx context.Context, rollID int64, username string) error
}

// BalanceStore mutates the per-(user, chat) currency counters. Debits
// fail with repository.ErrInsufficientBalance instead of clamping.
type BalanceStore interface {
	ReduceClaimPoints(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error)
	IncrementClaimPoints(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error)
	ReduceSpins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error)
	IncrementSpins(ctx context.Context, userID, chatID, amount int64) (*model.ChatBalance, error)
}

// Ledger records balance mutations for the audit trail.
type Ledger interface {
	Record(ctx context.Context, userID, chatID int64, currency string, amount int64, entryType string, description *string) (*model.LedgerEntry, error)
}

// SourcePicker selects the art source for generated cards.
type SourcePicker interface {
	SelectRandomWithImage(ctx context.Context, chatID int64) (*model.SourceProfile, error)
}

// Config holds the manager's resolved settings.
type Config struct {
	RerollWindow time.Duration
	MaxRetries   int
}

// Manager runs the rolled-card lifecycle.
type Manager struct {
	cards    CardStore
	rolls    RollStore
	balances BalanceStore
	ledger   Ledger
	sources  SourcePicker
	gen      cardgen.Generator
	table    rarity.Table
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a rolled-card Manager.
func New(cards CardStore, rolls RollStore, balances BalanceStore, ledger Ledger,
	sources SourcePicker, gen cardgen.Generator, table rarity.Table, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cards:    cards,
		rolls:    rolls,
		balances: balances,
		ledger:   ledger,
		sources:  sources,
		gen:      gen,
		table:    table,
		cfg:      cfg,
		logger:   logger.With().Str("component", "rolled").Logger(),
		now:      time.Now,
	}
}

// Roll consumes one spin and creates a new card with its rolled-card
// record. The spin is refunded when generation cannot proceed.
func (m *Manager) Roll(ctx context.Context, roller Identity, chatID int64) (*model.Card, *model.RolledCard, error) {
	if _, err := m.balances.ReduceSpins(ctx, roller.UserID, chatID, 1); err != nil {
		return nil, nil, err
	}

	card, roll, err := m.generateRolledCard(ctx, roller, chatID)
	if err != nil {
		if _, refundErr := m.balances.IncrementSpins(ctx, roller.UserID, chatID, 1); refundErr != nil {
			m.logger.Error().Err(refundErr).
				Int64("user_id", roller.UserID).
				Int64("chat_id", chatID).
				Msg("failed to refund spin after roll failure")
		}
		return nil, nil, err
	}

	m.record(ctx, roller.UserID, chatID, model.CurrencySpins, -1, model.LedgerTypeRollSpin,
		fmt.Sprintf("rolled card %d", card.ID))

	return card, roll, nil
}

func (m *Manager) generateRolledCard(ctx context.Context, roller Identity, chatID int64) (*model.Card, *model.RolledCard, error) {
	source, err := m.sources.SelectRandomWithImage(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, cardgen.ErrNoEligibleUser
	}

	tier := m.table.Draw()
	generated, err := cardgen.GenerateWithRetries(ctx, m.gen, source, tier, m.cfg.MaxRetries)
	if err != nil {
		return nil, nil, err
	}

	card, err := m.cards.Create(ctx, chatID, generated.Title, generated.Rarity, generated.ImageFileID)
	if err != nil {
		return nil, nil, err
	}

	roll, err := m.rolls.Create(ctx, card.ID, roller.UserID, card.Rarity)
	if err != nil {
		return nil, nil, err
	}

	m.logger.Info().
		Int64("card_id", card.ID).
		Int64("roll_id", roll.RollID).
		Str("rarity", string(card.Rarity)).
		Int64("roller_id", roller.UserID).
		Msg("card rolled")

	return card, roll, nil
}

// Claim attempts to claim the rolled card's active card for the
// claimer. The claim-point cost for the card's rarity is charged and
// ownership set so that both apply or neither: a lost ownership race
// after the charge refunds the charge.
func (m *Manager) Claim(ctx context.Context, rollID int64, claimer Identity, chatID int64) (ClaimResult, *model.Card, error) {
	roll, err := m.rolls.GetByID(ctx, rollID)
	if err != nil {
		return 0, nil, err
	}
	if StateOf(roll, nil) == StateRerolling {
		return ClaimUnavailable, nil, nil
	}

	card, err := m.cards.GetByID(ctx, roll.ActiveCardID())
	if err != nil {
		return 0, nil, err
	}

	if card.Owner != nil {
		if *card.Owner == claimer.Username {
			return ClaimAlreadyOwned, card, nil
		}
		if err := m.rolls.AppendAttemptedBy(ctx, rollID, claimer.Username); err != nil {
			return 0, nil, err
		}
		return ClaimTaken, card, nil
	}

	cost := m.table.ClaimCost(card.Rarity)
	if _, err := m.balances.ReduceClaimPoints(ctx, claimer.UserID, chatID, cost); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return ClaimInsufficientBalance, card, nil
		}
		return 0, nil, err
	}

	won, err := m.cards.ClaimIfUnowned(ctx, card.ID, claimer.UserID, claimer.Username)
	if err != nil {
		return 0, nil, err
	}
	if !won {
		// Lost the race after charging: compensate, then record the
		// attempt like any other late claim.
		if _, refundErr := m.balances.IncrementClaimPoints(ctx, claimer.UserID, chatID, cost); refundErr != nil {
			return 0, nil, fmt.Errorf("claim race lost and refund failed: %w", refundErr)
		}
		if err := m.rolls.AppendAttemptedBy(ctx, rollID, claimer.Username); err != nil {
			return 0, nil, err
		}
		current, err := m.cards.GetByID(ctx, card.ID)
		if err != nil {
			return 0, nil, err
		}
		return ClaimTaken, current, nil
	}

	m.record(ctx, claimer.UserID, chatID, model.CurrencyClaimPoints, -cost, model.LedgerTypeClaimCost,
		fmt.Sprintf("claimed card %d", card.ID))

	claimed, err := m.cards.GetByID(ctx, card.ID)
	if err != nil {
		return 0, nil, err
	}

	m.logger.Info().
		Int64("card_id", card.ID).
		Int64("user_id", claimer.UserID).
		Int64("cost", cost).
		Msg("card claimed")

	return ClaimSuccess, claimed, nil
}

// Lock sets the owner's anti-reroll lock on the card. Only the current
// owner may lock, and the rarity-dependent lock cost is charged first;
// a failed lock after the charge is compensated with a refund.
func (m *Manager) Lock(ctx context.Context, rollID int64, user Identity, chatID int64) (int64, *model.ChatBalance, error) {
	roll, err := m.rolls.GetByID(ctx, rollID)
	if err != nil {
		return 0, nil, err
	}
	if roll.IsLocked {
		return 0, nil, ErrCardLocked
	}

	card, err := m.cards.GetByID(ctx, roll.ActiveCardID())
	if err != nil {
		return 0, nil, err
	}
	if card.Owner == nil || *card.Owner != user.Username {
		return 0, nil, ErrNotOwner
	}

	cost := m.table.LockCost(card.Rarity)
	balance, err := m.balances.ReduceClaimPoints(ctx, user.UserID, chatID, cost)
	if err != nil {
		return 0, nil, err
	}

	if err := m.cards.SetLocked(ctx, card.ID, true); err != nil {
		if _, refundErr := m.balances.IncrementClaimPoints(ctx, user.UserID, chatID, cost); refundErr != nil {
			return 0, nil, fmt.Errorf("lock failed and refund failed: %w", refundErr)
		}
		return 0, nil, err
	}
	if err := m.rolls.SetLocked(ctx, rollID); err != nil {
		return 0, nil, err
	}

	m.record(ctx, user.UserID, chatID, model.CurrencyClaimPoints, -cost, model.LedgerTypeLockCost,
		fmt.Sprintf("locked card %d", card.ID))

	m.logger.Info().
		Int64("card_id", card.ID).
		Int64("user_id", user.UserID).
		Int64("cost", cost).
		Msg("card locked")

	return cost, balance, nil
}

// Reroll replaces the rolled card with a freshly generated one of
// equal-or-lower rarity. Permitted only to the original roller, once,
// within the reroll window, on an unlocked card. The being_rerolled
// flag is claimed before the slow generation call and cleared on every
// exit path; a previous owner is refunded the original rarity's claim
// cost since their claim is being invalidated.
func (m *Manager) Reroll(ctx context.Context, rollID int64, roller Identity, chatID int64) (*model.Card, *model.RolledCard, error) {
	roll, err := m.rolls.GetByID(ctx, rollID)
	if err != nil {
		return nil, nil, err
	}

	switch state := StateOf(roll, nil); {
	case roll.OriginalRollerID != roller.UserID:
		return nil, nil, ErrNotRoller
	case state == StateRerolling:
		return nil, nil, ErrRerollInFlight
	case state == StateRerolled:
		return nil, nil, ErrAlreadyRerolled
	case state == StateLocked:
		return nil, nil, ErrCardLocked
	case m.now().Sub(roll.CreatedAt) >= m.cfg.RerollWindow:
		return nil, nil, ErrRerollWindowExpired
	}

	won, err := m.rolls.BeginReroll(ctx, rollID)
	if err != nil {
		return nil, nil, err
	}
	if !won {
		return nil, nil, ErrRerollInFlight
	}

	newCard, updated, err := m.executeReroll(ctx, roll, chatID)
	if err != nil {
		if abortErr := m.rolls.AbortReroll(ctx, rollID); abortErr != nil {
			m.logger.Error().Err(abortErr).
				Int64("roll_id", rollID).
				Msg("failed to clear reroll flag after failure")
		}
		return nil, nil, err
	}

	return newCard, updated, nil
}

func (m *Manager) executeReroll(ctx context.Context, roll *model.RolledCard, chatID int64) (*model.Card, *model.RolledCard, error) {
	original, err := m.cards.GetByID(ctx, roll.OriginalCardID)
	if err != nil {
		return nil, nil, err
	}

	source, err := m.sources.SelectRandomWithImage(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, cardgen.ErrNoEligibleUser
	}

	// The replacement never upgrades: draw from tiers at or below the
	// original rarity.
	tier := m.table.DrawAtMost(original.Rarity)
	generated, err := cardgen.GenerateWithRetries(ctx, m.gen, source, tier, m.cfg.MaxRetries)
	if err != nil {
		return nil, nil, err
	}

	newCard, err := m.cards.Create(ctx, chatID, generated.Title, generated.Rarity, generated.ImageFileID)
	if err != nil {
		return nil, nil, err
	}

	updated, err := m.rolls.CompleteReroll(ctx, roll.RollID, newCard.ID)
	if err != nil {
		return nil, nil, err
	}

	if original.Owner != nil && original.OwnerID != nil {
		refund := m.table.ClaimCost(original.Rarity)
		if _, err := m.balances.IncrementClaimPoints(ctx, *original.OwnerID, chatID, refund); err != nil {
			m.logger.Error().Err(err).
				Int64("card_id", original.ID).
				Int64("owner_id", *original.OwnerID).
				Msg("failed to refund invalidated claim")
		} else {
			m.record(ctx, *original.OwnerID, chatID, model.CurrencyClaimPoints, refund,
				model.LedgerTypeRerollRefund, fmt.Sprintf("reroll of card %d", original.ID))
		}
	}

	m.logger.Info().
		Int64("roll_id", roll.RollID).
		Int64("old_card_id", original.ID).
		Int64("new_card_id", newCard.ID).
		Str("rarity", string(newCard.Rarity)).
		Msg("card rerolled")

	return newCard, updated, nil
}

// Award generates a reward card for a minigame win and assigns it to
// the winner directly, bypassing the claim charge. The card still gets
// a rolled-card record so the usual lifecycle applies to it.
func (m *Manager) Award(ctx context.Context, winner Identity, chatID int64, source *model.SourceProfile, tier rarity.Tier) (*model.Card, error) {
	generated, err := cardgen.GenerateWithRetries(ctx, m.gen, source, tier, m.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	card, err := m.cards.Create(ctx, chatID, generated.Title, generated.Rarity, generated.ImageFileID)
	if err != nil {
		return nil, err
	}
	if _, err := m.rolls.Create(ctx, card.ID, winner.UserID, card.Rarity); err != nil {
		return nil, err
	}
	if err := m.cards.SetOwner(ctx, card.ID, &winner.UserID, &winner.Username); err != nil {
		return nil, err
	}
	card.Owner = &winner.Username
	card.OwnerID = &winner.UserID

	m.logger.Info().
		Int64("card_id", card.ID).
		Int64("user_id", winner.UserID).
		Str("rarity", string(card.Rarity)).
		Msg("reward card awarded")

	return card, nil
}

// GetByCardID returns the rolled card fronting the given card.
func (m *Manager) GetByCardID(ctx context.Context, cardID int64) (*model.RolledCard, error) {
	return m.rolls.GetByCardID(ctx, cardID)
}

// GetByID returns one rolled card.
func (m *Manager) GetByID(ctx context.Context, rollID int64) (*model.RolledCard, error) {
	return m.rolls.GetByID(ctx, rollID)
}

// RerollWindow exposes the configured window for display projections.
func (m *Manager) RerollWindow() time.Duration {
	return m.cfg.RerollWindow
}

func (m *Manager) record(ctx context.Context, userID, chatID int64, currency string, amount int64, entryType, description string) {
	if _, err := m.ledger.Record(ctx, userID, chatID, currency, amount, entryType, &description); err != nil {
		m.logger.Error().Err(err).
			Str("type", entryType).
			Int64("user_id", userID).
			Msg("failed to record ledger entry")
	}
}
