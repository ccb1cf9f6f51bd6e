package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/rarity"
	"telegram-card-bot/internal/repository"
)

// AccountHandler handles balances, the card collection and burning.
type AccountHandler struct {
	cards    *repository.CardRepository
	balances *repository.BalanceRepository
	ledger   *repository.LedgerRepository
	table    rarity.Table
	guard    *actionguard.Guard
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(cards *repository.CardRepository, balances *repository.BalanceRepository,
	ledger *repository.LedgerRepository, table rarity.Table, guard *actionguard.Guard) *AccountHandler {
	return &AccountHandler{cards: cards, balances: balances, ledger: ledger, table: table, guard: guard}
}

// HandleStart handles /start with a short command overview.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	return c.Reply(
		"🎴 Card game bot.\n\n" +
			"/roll - spend a spin, roll a card\n" +
			"/mines <card_id> - bet a card on minesweeper\n" +
			"/rtb <bet> - ride the bus for spins\n" +
			"/slot - spin the slots\n" +
			"/megaspin - guaranteed card win\n" +
			"/burn <card_id> - trade a card for spins\n" +
			"/cards - your collection\n" +
			"/balance - your balances")
}

// HandleBalance handles /balance.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	balance, err := h.balances.Get(context.Background(), sender.ID, chat.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("balance lookup failed")
		return c.Reply("❌ Something went wrong.")
	}

	return c.Reply(fmt.Sprintf(
		"💰 Your balances here:\nClaim points: %d\nSpins: %d\nMegaspins: %d",
		balance.ClaimPoints, balance.Spins, balance.Megaspins,
	))
}

// HandleCards handles /cards: list the sender's collection in this chat.
func (h *AccountHandler) HandleCards(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	username := sender.Username
	if username == "" {
		username = sender.FirstName
	}

	cards, err := h.cards.GetOwnedByUser(context.Background(), chat.ID, username, 50)
	if err != nil {
		log.Error().Err(err).Msg("collection lookup failed")
		return c.Reply("❌ Something went wrong.")
	}
	if len(cards) == 0 {
		return c.Reply("🫥 You own no cards here yet. Try /roll.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎴 Your cards (%d):\n", len(cards))
	for _, card := range cards {
		lock := ""
		if card.Locked {
			lock = " 🔒"
		}
		fmt.Fprintf(&b, "#%d %s (%s)%s\n", card.ID, card.Title, card.Rarity, lock)
	}
	return c.Reply(b.String())
}

// HandleBurn handles "/burn <card_id>": destroy an owned, unlocked card
// in exchange for its rarity's spin reward.
func (h *AccountHandler) HandleBurn(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /burn <card_id>")
	}
	cardID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ That doesn't look like a card ID.")
	}

	ran, guardErr := h.guard.Do(actionguard.ResourceKey("burn", cardID), func() error {
		ctx := context.Background()

		card, err := h.cards.GetByID(ctx, cardID)
		if err != nil {
			if errors.Is(err, repository.ErrCardNotFound) {
				return c.Reply("❌ No such card.")
			}
			return err
		}

		username := sender.Username
		if username == "" {
			username = sender.FirstName
		}
		switch {
		case card.Owner == nil || *card.Owner != username:
			return c.Reply("❌ You can only burn a card you own.")
		case card.Locked:
			return c.Reply("❌ Locked cards can't be burned.")
		case card.ChatID != chat.ID:
			return c.Reply("❌ That card belongs to another chat.")
		}

		// The conditional delete is the final guard against a
		// concurrent lock or burn.
		deleted, err := h.cards.Delete(ctx, cardID)
		if err != nil {
			return err
		}
		if !deleted {
			return c.Reply("❌ The card is locked or already gone.")
		}

		// A configured reward of zero burns the card for nothing.
		reward := h.table.SpinReward(card.Rarity)
		if reward > 0 {
			if _, err := h.balances.IncrementSpins(ctx, sender.ID, chat.ID, reward); err != nil {
				log.Error().Err(err).Int64("card_id", cardID).Msg("failed to credit burn reward")
				return c.Reply("❌ The card burned but the reward failed. An admin can fix your balance.")
			}
			desc := fmt.Sprintf("burned card %d", cardID)
			if _, err := h.ledger.Record(ctx, sender.ID, chat.ID, model.CurrencySpins, reward,
				model.LedgerTypeBurnReward, &desc); err != nil {
				log.Error().Err(err).Msg("failed to record burn reward")
			}
		}

		return c.Reply(fmt.Sprintf("🔥 %s (%s) burned for %d spins.", card.Title, card.Rarity, reward))
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return nil
	}
	return nil
}

// HandleGrant handles the admin "/grant <claim|spins|megaspins> <amount>"
// command, used as a reply to the recipient's message.
func (h *AccountHandler) HandleGrant(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	msg := c.Message()
	if sender == nil || chat == nil || msg == nil {
		return nil
	}
	if msg.ReplyTo == nil || msg.ReplyTo.Sender == nil {
		return c.Reply("Usage: reply to someone with /grant <claim|spins|megaspins> <amount>")
	}

	args := c.Args()
	if len(args) != 2 {
		return c.Reply("Usage: /grant <claim|spins|megaspins> <amount>")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return c.Reply("❌ Amount must be a positive number.")
	}

	ctx := context.Background()
	target := msg.ReplyTo.Sender

	var currency string
	switch args[0] {
	case "claim":
		currency = model.CurrencyClaimPoints
		_, err = h.balances.IncrementClaimPoints(ctx, target.ID, chat.ID, amount)
	case "spins":
		currency = model.CurrencySpins
		_, err = h.balances.IncrementSpins(ctx, target.ID, chat.ID, amount)
	case "megaspins":
		currency = model.CurrencyMegaspins
		_, err = h.balances.IncrementMegaspins(ctx, target.ID, chat.ID, amount)
	default:
		return c.Reply("❌ Currency must be claim, spins or megaspins.")
	}
	if err != nil {
		log.Error().Err(err).Msg("grant failed")
		return c.Reply("❌ Something went wrong.")
	}

	desc := fmt.Sprintf("granted by %d", sender.ID)
	if _, err := h.ledger.Record(ctx, target.ID, chat.ID, currency, amount,
		model.LedgerTypeAdminGrant, &desc); err != nil {
		log.Error().Err(err).Msg("failed to record grant")
	}

	return c.Reply(fmt.Sprintf("✅ Granted %d %s to @%s.", amount, args[0], target.Username))
}

// HandleHistory handles /history: recent balance mutations.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	entries, err := h.ledger.GetRecent(context.Background(), sender.ID, chat.ID, 10)
	if err != nil {
		log.Error().Err(err).Msg("history lookup failed")
		return c.Reply("❌ Something went wrong.")
	}
	if len(entries) == 0 {
		return c.Reply("📒 No activity yet.")
	}

	var b strings.Builder
	b.WriteString("📒 Recent activity:\n")
	for _, e := range entries {
		sign := ""
		if e.Amount > 0 {
			sign = "+"
		}
		fmt.Fprintf(&b, "%s%d %s · %s\n", sign, e.Amount, e.Currency, e.Type)
	}
	return c.Reply(b.String())
}
