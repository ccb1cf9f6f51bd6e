package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/config"
	"telegram-card-bot/internal/game/rolled"
	"telegram-card-bot/internal/game/slots"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/repository"
)

// SlotsHandler handles the /slot and /megaspin commands.
type SlotsHandler struct {
	cfg      *config.Config
	resolver *slots.Resolver
	manager  *rolled.Manager
	sources  *repository.SourceRepository
	balances *repository.BalanceRepository
	ledger   *repository.LedgerRepository
	guard    *actionguard.Guard
}

// NewSlotsHandler creates a new SlotsHandler.
func NewSlotsHandler(cfg *config.Config, resolver *slots.Resolver, manager *rolled.Manager,
	sources *repository.SourceRepository, balances *repository.BalanceRepository,
	ledger *repository.LedgerRepository, guard *actionguard.Guard) *SlotsHandler {
	return &SlotsHandler{
		cfg:      cfg,
		resolver: resolver,
		manager:  manager,
		sources:  sources,
		balances: balances,
		ledger:   ledger,
		guard:    guard,
	}
}

// HandleSlot handles /slot: one spin, one independent resolution.
func (h *SlotsHandler) HandleSlot(c tele.Context) error {
	return h.spin(c, false)
}

// HandleMegaspin handles /megaspin: consumes a megaspin and always
// pays out a card.
func (h *SlotsHandler) HandleMegaspin(c tele.Context) error {
	return h.spin(c, true)
}

func (h *SlotsHandler) spin(c tele.Context, mega bool) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	action := "slot"
	if mega {
		action = "megaspin"
	}

	ran, guardErr := h.guard.Do(actionguard.Key(sender.ID, chat.ID, action), func() error {
		ctx := context.Background()

		var chargeErr error
		if mega {
			_, chargeErr = h.balances.ReduceMegaspins(ctx, sender.ID, chat.ID, 1)
		} else {
			_, chargeErr = h.balances.ReduceSpins(ctx, sender.ID, chat.ID, 1)
		}
		if chargeErr != nil {
			if errors.Is(chargeErr, repository.ErrInsufficientBalance) {
				if mega {
					return c.Reply("❌ No megaspins left.")
				}
				return c.Reply("❌ No spins left. Win some in the minigames or /burn a card.")
			}
			return chargeErr
		}

		var result slots.SpinResult
		var entryType string
		var currency string
		if mega {
			result = h.resolver.ResolveMegaspin(slots.DefaultSymbols)
			entryType = model.LedgerTypeMegaspin
			currency = model.CurrencyMegaspins
		} else {
			result = h.resolver.ResolveSpin(slots.DefaultSymbols, h.cfg.SlotWinChance(), h.cfg.SlotClaimChance())
			entryType = model.LedgerTypeSlotSpin
			currency = model.CurrencySpins
		}

		desc := "slot spin"
		if _, err := h.ledger.Record(ctx, sender.ID, chat.ID, currency, -1, entryType, &desc); err != nil {
			log.Error().Err(err).Msg("failed to record spin")
		}

		reels := reelLine(result)
		switch {
		case result.IsWin:
			if err := c.Reply(fmt.Sprintf("%s\n🎰 Jackpot! Generating your %s card…", reels, result.Rarity)); err != nil {
				return err
			}
			h.awardCard(ctx, c, identityOf(sender), chat.ID, result)
			return nil
		case result.IsClaimWin:
			if _, err := h.balances.IncrementClaimPoints(ctx, sender.ID, chat.ID, 1); err != nil {
				log.Error().Err(err).Msg("failed to credit slot claim point")
			} else {
				awardDesc := "slot claim point win"
				if _, err := h.ledger.Record(ctx, sender.ID, chat.ID, model.CurrencyClaimPoints, 1,
					model.LedgerTypeSlotAward, &awardDesc); err != nil {
					log.Error().Err(err).Msg("failed to record slot claim point win")
				}
			}
			return c.Reply(reels + "\n🏵 Claim point!")
		default:
			return c.Reply(reels + "\nNo luck this time.")
		}
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return nil
	}
	return nil
}

func (h *SlotsHandler) awardCard(ctx context.Context, c tele.Context, winner rolled.Identity, chatID int64, result slots.SpinResult) {
	source, err := h.sources.SelectRandomWithImage(ctx, chatID)
	if err != nil || source == nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("no source for slot reward")
		_ = c.Send("⚠️ You won, but there is no art source to generate the card from.")
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	card, err := h.manager.Award(genCtx, winner, chatID, source, result.Rarity)
	if err != nil {
		log.Error().Err(err).Msg("slot reward generation failed")
		_ = c.Send("⚠️ You won, but the reward card could not be generated. An admin can regenerate it.")
		return
	}

	photo := &tele.Photo{
		File:    tele.File{FileID: card.ImageFileID},
		Caption: fmt.Sprintf("🏆 %s (%s), already yours.", card.Title, card.Rarity),
	}
	if err := c.Send(photo); err != nil {
		log.Error().Err(err).Msg("failed to send slot reward")
	}
}

func reelLine(result slots.SpinResult) string {
	labels := make([]string, 0, 3)
	for _, s := range result.Symbols {
		labels = append(labels, s.Label)
	}
	return "[ " + strings.Join(labels, " | ") + " ]"
}
