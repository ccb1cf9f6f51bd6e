// Package handler provides Telegram bot command and callback handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/cardgen"
	"telegram-card-bot/internal/game/rolled"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/repository"
)

// RollHandler handles the /roll command and the claim/lock/reroll
// buttons on rolled-card messages.
type RollHandler struct {
	manager *rolled.Manager
	cards   *repository.CardRepository
	guard   *actionguard.Guard
}

// NewRollHandler creates a new RollHandler.
func NewRollHandler(manager *rolled.Manager, cards *repository.CardRepository, guard *actionguard.Guard) *RollHandler {
	return &RollHandler{manager: manager, cards: cards, guard: guard}
}

func identityOf(sender *tele.User) rolled.Identity {
	username := sender.Username
	if username == "" {
		username = sender.FirstName
	}
	return rolled.Identity{UserID: sender.ID, Username: username}
}

// HandleRoll handles the /roll command: consume a spin, generate a
// card, post it with its action keyboard.
func (h *RollHandler) HandleRoll(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	roller := identityOf(sender)

	ran, err := h.guard.Do(actionguard.Key(sender.ID, chat.ID, "roll"), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		card, roll, err := h.manager.Roll(ctx, roller, chat.ID)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrInsufficientBalance):
				return c.Reply("❌ You have no spins left. Win some in the minigames or /burn a card.")
			case errors.Is(err, cardgen.ErrNoEligibleUser):
				return c.Reply("❌ Nobody in this chat has generated art yet, so there is nothing to roll from.")
			case errors.Is(err, cardgen.ErrImageGeneration):
				return c.Reply("❌ Card generation failed, your spin was refunded. Try again in a bit.")
			default:
				log.Error().Err(err).Int64("user_id", sender.ID).Msg("roll failed")
				return c.Reply("❌ Something went wrong, your spin was refunded.")
			}
		}

		return h.sendCard(c, card, roll)
	})
	if err != nil {
		return err
	}
	if !ran {
		// A roll by this user is already in flight; drop the duplicate.
		return nil
	}
	return nil
}

// sendCard posts the card photo with the caption and action keyboard
// derived from current state.
func (h *RollHandler) sendCard(c tele.Context, card *model.Card, roll *model.RolledCard) error {
	view := rolled.View{
		Roll:         roll,
		Card:         card,
		RerollWindow: h.manager.RerollWindow(),
		Now:          time.Now(),
	}

	photo := &tele.Photo{
		File:    tele.File{FileID: card.ImageFileID},
		Caption: rolled.Caption(view),
	}
	return c.Send(photo, keyboardMarkup(view, roll.RollID))
}

// keyboardMarkup converts the projected action list into telebot buttons.
func keyboardMarkup(view rolled.View, rollID int64) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var row []tele.Btn
	for _, action := range rolled.Keyboard(view) {
		switch action {
		case rolled.ActionClaim:
			row = append(row, markup.Data("Claim", "card_claim", strconv.FormatInt(rollID, 10)))
		case rolled.ActionLock:
			row = append(row, markup.Data("Lock 🔒", "card_lock", strconv.FormatInt(rollID, 10)))
		case rolled.ActionReroll:
			row = append(row, markup.Data("Reroll 🎲", "card_reroll", strconv.FormatInt(rollID, 10)))
		}
	}
	if len(row) > 0 {
		markup.Inline(markup.Row(row...))
	}
	return markup
}

// refreshCard rewrites the card message after a state change.
func (h *RollHandler) refreshCard(c tele.Context, rollID int64) error {
	ctx := context.Background()

	roll, err := h.manager.GetByID(ctx, rollID)
	if err != nil {
		return err
	}
	card, err := h.cards.GetByID(ctx, roll.ActiveCardID())
	if err != nil {
		return err
	}

	view := rolled.View{
		Roll:         roll,
		Card:         card,
		RerollWindow: h.manager.RerollWindow(),
		Now:          time.Now(),
	}

	photo := &tele.Photo{
		File:    tele.File{FileID: card.ImageFileID},
		Caption: rolled.Caption(view),
	}
	return c.Edit(photo, keyboardMarkup(view, rollID))
}

func callbackRollID(c tele.Context) (int64, bool) {
	data := strings.TrimPrefix(c.Callback().Data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[i+1:]
	}
	id, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
	return id, err == nil
}

// HandleClaimCallback handles the Claim button.
func (h *RollHandler) HandleClaimCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}
	rollID, ok := callbackRollID(c)
	if !ok {
		return c.Respond()
	}

	claimer := identityOf(sender)

	ran, err := h.guard.Do(actionguard.ResourceKey("claim", rollID), func() error {
		ctx := context.Background()

		result, card, err := h.manager.Claim(ctx, rollID, claimer, chat.ID)
		if err != nil {
			log.Error().Err(err).Int64("roll_id", rollID).Msg("claim failed")
			return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
		}

		switch result {
		case rolled.ClaimSuccess:
			if err := c.Respond(&tele.CallbackResponse{Text: "Card claimed! 🎉"}); err != nil {
				return err
			}
			return h.refreshCard(c, rollID)
		case rolled.ClaimAlreadyOwned:
			return c.Respond(&tele.CallbackResponse{Text: "You already own this card."})
		case rolled.ClaimTaken:
			if err := c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("Too late, @%s got it first.", deref(card.Owner))}); err != nil {
				return err
			}
			return h.refreshCard(c, rollID)
		case rolled.ClaimInsufficientBalance:
			return c.Respond(&tele.CallbackResponse{Text: "Not enough claim points."})
		case rolled.ClaimUnavailable:
			return c.Respond(&tele.CallbackResponse{Text: "This card is being rerolled."})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		// Duplicate click while the first claim is still processing.
		return c.Respond()
	}
	return nil
}

// HandleLockCallback handles the Lock button.
func (h *RollHandler) HandleLockCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}
	rollID, ok := callbackRollID(c)
	if !ok {
		return c.Respond()
	}

	user := identityOf(sender)

	ran, err := h.guard.Do(actionguard.ResourceKey("lock", rollID), func() error {
		ctx := context.Background()

		cost, balance, err := h.manager.Lock(ctx, rollID, user, chat.ID)
		if err != nil {
			switch {
			case errors.Is(err, rolled.ErrNotOwner):
				return c.Respond(&tele.CallbackResponse{Text: "Only the owner can lock this card."})
			case errors.Is(err, rolled.ErrCardLocked):
				return c.Respond(&tele.CallbackResponse{Text: "Already locked."})
			case errors.Is(err, repository.ErrInsufficientBalance):
				return c.Respond(&tele.CallbackResponse{Text: "Not enough claim points to lock."})
			default:
				log.Error().Err(err).Int64("roll_id", rollID).Msg("lock failed")
				return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
			}
		}

		if err := c.Respond(&tele.CallbackResponse{
			Text: fmt.Sprintf("Locked for %d points. %d left.", cost, balance.ClaimPoints),
		}); err != nil {
			return err
		}
		return h.refreshCard(c, rollID)
	})
	if err != nil {
		return err
	}
	if !ran {
		return c.Respond()
	}
	return nil
}

// HandleRerollCallback handles the Reroll button. The pending-action
// guard drops duplicate clicks while the slow generation call runs;
// the persisted being_rerolled flag closes the cross-process race.
func (h *RollHandler) HandleRerollCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}
	rollID, ok := callbackRollID(c)
	if !ok {
		return c.Respond()
	}

	roller := identityOf(sender)

	ran, err := h.guard.Do(actionguard.ResourceKey("reroll", rollID), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		_, _, err := h.manager.Reroll(ctx, rollID, roller, chat.ID)
		if err != nil {
			switch {
			case errors.Is(err, rolled.ErrNotRoller):
				return c.Respond(&tele.CallbackResponse{Text: "Only the original roller can reroll."})
			case errors.Is(err, rolled.ErrAlreadyRerolled):
				return c.Respond(&tele.CallbackResponse{Text: "This card was already rerolled."})
			case errors.Is(err, rolled.ErrCardLocked):
				return c.Respond(&tele.CallbackResponse{Text: "This card is locked."})
			case errors.Is(err, rolled.ErrRerollInFlight):
				return c.Respond(&tele.CallbackResponse{Text: "A reroll is already in progress."})
			case errors.Is(err, rolled.ErrRerollWindowExpired):
				return c.Respond(&tele.CallbackResponse{Text: "The reroll window has closed."})
			case errors.Is(err, cardgen.ErrNoEligibleUser):
				return c.Respond(&tele.CallbackResponse{Text: "No art source available for a new card."})
			case errors.Is(err, cardgen.ErrImageGeneration):
				return c.Respond(&tele.CallbackResponse{Text: "Generation failed, try again."})
			default:
				log.Error().Err(err).Int64("roll_id", rollID).Msg("reroll failed")
				return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
			}
		}

		if err := c.Respond(&tele.CallbackResponse{Text: "Card rerolled! 🎲"}); err != nil {
			return err
		}
		return h.refreshCard(c, rollID)
	})
	if err != nil {
		return err
	}
	if !ran {
		return c.Respond()
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
