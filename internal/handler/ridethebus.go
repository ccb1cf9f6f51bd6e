package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/game/ridethebus"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/repository"
)

// RideTheBusHandler handles the /rtb command and guess/cash-out buttons.
type RideTheBusHandler struct {
	engine   *ridethebus.Engine
	balances *repository.BalanceRepository
	ledger   *repository.LedgerRepository
	guard    *actionguard.Guard
}

// NewRideTheBusHandler creates a new RideTheBusHandler.
func NewRideTheBusHandler(engine *ridethebus.Engine, balances *repository.BalanceRepository,
	ledger *repository.LedgerRepository, guard *actionguard.Guard) *RideTheBusHandler {
	return &RideTheBusHandler{engine: engine, balances: balances, ledger: ledger, guard: guard}
}

// HandleRTB handles "/rtb <bet>": charge the bet in spins and deal the
// five cards. The charge is refunded if game creation is refused.
func (h *RideTheBusHandler) HandleRTB(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /rtb <bet> - bet between 10 and 50 spins.")
	}
	bet, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ That doesn't look like a bet amount.")
	}
	// Rejecting the bet before the charge keeps invalid amounts away
	// from the balance entirely. A negative bet would otherwise turn
	// the floored charge into a credit.
	if err := h.engine.ValidateBet(bet); err != nil {
		return c.Reply("❌ Bets run from 10 to 50 spins.")
	}

	ran, guardErr := h.guard.Do(actionguard.Key(sender.ID, chat.ID, "rtb"), func() error {
		ctx := context.Background()

		ok, reason, err := h.engine.CheckAvailability(ctx, chat.ID)
		if err != nil {
			log.Error().Err(err).Msg("rtb availability check failed")
			return c.Reply("❌ Something went wrong.")
		}
		if !ok {
			return c.Reply("🚌 Can't deal a fair game: " + reason)
		}

		if _, err := h.balances.ReduceSpins(ctx, sender.ID, chat.ID, bet); err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return c.Reply("❌ Not enough spins for that bet.")
			}
			return err
		}

		game, err := h.engine.Create(ctx, sender.ID, chat.ID, bet)
		if err != nil {
			if _, refundErr := h.balances.IncrementSpins(ctx, sender.ID, chat.ID, bet); refundErr != nil {
				log.Error().Err(refundErr).Msg("failed to refund rtb bet")
			}
			switch {
			case errors.Is(err, ridethebus.ErrBetOutOfRange):
				return c.Reply("❌ Bets run from 10 to 50 spins.")
			case errors.Is(err, ridethebus.ErrGameInProgress):
				return c.Reply("🚌 You already have a ride going. Finish it first.")
			default:
				log.Error().Err(err).Msg("rtb create failed")
				return c.Reply("❌ Something went wrong.")
			}
		}

		desc := fmt.Sprintf("rtb game %d", game.ID)
		if _, err := h.ledger.Record(ctx, sender.ID, chat.ID, model.CurrencySpins, -bet,
			model.LedgerTypeRTBBet, &desc); err != nil {
			log.Error().Err(err).Msg("failed to record rtb bet")
		}

		return c.Send(gameText(game), gameMarkup(game))
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return nil
	}
	return nil
}

// HandleGuessCallback handles the higher/lower/equal buttons.
func (h *RideTheBusHandler) HandleGuessCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}

	gameID, arg, ok := parseGameData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}
	guess, err := ridethebus.ParseGuess(arg)
	if err != nil {
		return c.Respond()
	}

	ran, guardErr := h.guard.Do(actionguard.ResourceKey("rtb", gameID), func() error {
		ctx := context.Background()

		game, err := h.engine.GetByID(ctx, gameID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Game not found."})
		}
		if game.UserID != sender.ID {
			return c.Respond(&tele.CallbackResponse{Text: "Not your ride."})
		}

		game, correct, err := h.engine.Guess(ctx, gameID, guess)
		if err != nil {
			if errors.Is(err, ridethebus.ErrGameNotActive) || errors.Is(err, ridethebus.ErrGameComplete) {
				return c.Respond(&tele.CallbackResponse{Text: "This ride is over."})
			}
			log.Error().Err(err).Int64("game_id", gameID).Msg("rtb guess failed")
			return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
		}

		switch {
		case game.Status == model.GameStatusWon:
			payout := h.engine.Payout(game)
			h.payOut(ctx, sender.ID, chat.ID, game.ID, payout)
			if err := c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("🏆 Rode the whole bus! +%d spins", payout)}); err != nil {
				return err
			}
		case correct:
			if err := c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("✅ Correct! Now at %dx", game.CurrentMultiplier)}); err != nil {
				return err
			}
		default:
			if err := c.Respond(&tele.CallbackResponse{Text: "❌ Wrong! Bet forfeited."}); err != nil {
				return err
			}
		}

		return c.Edit(gameText(game), gameMarkup(game))
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return c.Respond()
	}
	return nil
}

// HandleCashOutCallback handles the cash-out button.
func (h *RideTheBusHandler) HandleCashOutCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}

	gameID, _, ok := parseGameData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}

	ran, guardErr := h.guard.Do(actionguard.ResourceKey("rtb", gameID), func() error {
		ctx := context.Background()

		game, err := h.engine.GetByID(ctx, gameID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Game not found."})
		}
		if game.UserID != sender.ID {
			return c.Respond(&tele.CallbackResponse{Text: "Not your ride."})
		}

		game, payout, err := h.engine.CashOut(ctx, gameID)
		if err != nil {
			switch {
			case errors.Is(err, ridethebus.ErrCashOutTooEarly):
				return c.Respond(&tele.CallbackResponse{Text: "Guess at least once before cashing out."})
			case errors.Is(err, ridethebus.ErrGameNotActive):
				return c.Respond(&tele.CallbackResponse{Text: "This ride is over."})
			default:
				log.Error().Err(err).Int64("game_id", gameID).Msg("rtb cash out failed")
				return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
			}
		}

		h.payOut(ctx, sender.ID, chat.ID, game.ID, payout)
		if err := c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("💰 Cashed out: +%d spins", payout)}); err != nil {
			return err
		}
		return c.Edit(gameText(game), gameMarkup(game))
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return c.Respond()
	}
	return nil
}

func (h *RideTheBusHandler) payOut(ctx context.Context, userID, chatID, gameID, payout int64) {
	if _, err := h.balances.IncrementSpins(ctx, userID, chatID, payout); err != nil {
		log.Error().Err(err).Int64("game_id", gameID).Msg("failed to credit rtb payout")
		return
	}
	desc := fmt.Sprintf("rtb game %d", gameID)
	if _, err := h.ledger.Record(ctx, userID, chatID, model.CurrencySpins, payout,
		model.LedgerTypeRTBPayout, &desc); err != nil {
		log.Error().Err(err).Msg("failed to record rtb payout")
	}
}

// gameText renders the ride so far: passed cards face up, the rest
// face down.
func gameText(game *model.RideTheBusGame) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🚌 Ride the Bus - %d spins at %dx\n\n", game.BetAmount, game.CurrentMultiplier)
	// Terminal games show the whole draw, including the card that
	// ended the ride.
	for i := range game.CardIDs {
		if i < game.CurrentPosition || game.Status.Terminal() {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, game.CardTitles[i], game.CardRarities[i])
		} else {
			fmt.Fprintf(&b, "%d. 🂠\n", i+1)
		}
	}

	switch game.Status {
	case model.GameStatusWon:
		fmt.Fprintf(&b, "\n🏆 Full ride! Paid %d spins.", game.BetAmount*game.CurrentMultiplier)
	case model.GameStatusLost:
		b.WriteString("\n💥 Wrong guess, bet forfeited.")
	case model.GameStatusCashedOut:
		fmt.Fprintf(&b, "\n💰 Cashed out at %dx for %d spins.", game.CurrentMultiplier, game.BetAmount*game.CurrentMultiplier)
	default:
		fmt.Fprintf(&b, "\nIs card %d higher, lower or equal?", game.CurrentPosition+1)
	}

	return b.String()
}

func gameMarkup(game *model.RideTheBusGame) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	if game.Status.Terminal() {
		return markup
	}

	id := strconv.FormatInt(game.ID, 10)
	guessRow := markup.Row(
		markup.Data("⬆️ Higher", "rtb_guess", id+":higher"),
		markup.Data("🟰 Equal", "rtb_guess", id+":equal"),
		markup.Data("⬇️ Lower", "rtb_guess", id+":lower"),
	)

	if game.CurrentPosition >= 2 {
		markup.Inline(guessRow, markup.Row(markup.Data("💰 Cash out", "rtb_cashout", id)))
	} else {
		markup.Inline(guessRow)
	}
	return markup
}

// parseGameData splits "<gameID>" or "<gameID>:<arg>" callback data.
func parseGameData(data string) (gameID int64, arg string, ok bool) {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[i+1:]
	}
	parts := strings.SplitN(strings.TrimSpace(data), ":", 2)
	gameID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 2 {
		arg = parts[1]
	}
	return gameID, arg, true
}
