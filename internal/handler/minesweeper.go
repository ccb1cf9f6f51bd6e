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
	"telegram-card-bot/internal/game/minesweeper"
	"telegram-card-bot/internal/game/rolled"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/pkg/actionguard"
	"telegram-card-bot/internal/rarity"
	"telegram-card-bot/internal/repository"
)

// MinesweeperHandler handles the /mines command and cell-reveal buttons.
type MinesweeperHandler struct {
	engine   *minesweeper.Engine
	manager  *rolled.Manager
	cards    *repository.CardRepository
	sources  *repository.SourceRepository
	balances *repository.BalanceRepository
	ledger   *repository.LedgerRepository
	table    rarity.Table
	guard    *actionguard.Guard
}

// NewMinesweeperHandler creates a new MinesweeperHandler.
func NewMinesweeperHandler(
	engine *minesweeper.Engine,
	manager *rolled.Manager,
	cards *repository.CardRepository,
	sources *repository.SourceRepository,
	balances *repository.BalanceRepository,
	ledger *repository.LedgerRepository,
	table rarity.Table,
	guard *actionguard.Guard,
) *MinesweeperHandler {
	return &MinesweeperHandler{
		engine:   engine,
		manager:  manager,
		cards:    cards,
		sources:  sources,
		balances: balances,
		ledger:   ledger,
		table:    table,
		guard:    guard,
	}
}

// HandleMines handles "/mines <card_id>": bet an owned, unlocked,
// non-unique card and start a game unless one is blocking.
func (h *MinesweeperHandler) HandleMines(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /mines <card_id> - bet one of your cards.")
	}
	cardID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ That doesn't look like a card ID.")
	}

	ran, guardErr := h.guard.Do(actionguard.Key(sender.ID, chat.ID, "mines"), func() error {
		ctx := context.Background()

		existing, err := h.engine.GetExisting(ctx, sender.ID, chat.ID)
		if err != nil {
			log.Error().Err(err).Msg("minesweeper lookup failed")
			return c.Reply("❌ Something went wrong.")
		}
		if existing != nil {
			if existing.Status == model.GameStatusActive {
				return h.sendBoard(c, existing, "You already have a game running:")
			}
			return c.Reply("⏳ Your last game is still on cooldown.")
		}

		card, err := h.cards.GetByID(ctx, cardID)
		if err != nil {
			if errors.Is(err, repository.ErrCardNotFound) {
				return c.Reply("❌ No such card.")
			}
			return err
		}
		username := identityOf(sender).Username
		switch {
		case card.Owner == nil || *card.Owner != username:
			return c.Reply("❌ You can only bet a card you own.")
		case card.Locked:
			return c.Reply("❌ Locked cards can't be bet.")
		case card.Rarity == rarity.Unique:
			return c.Reply("❌ Unique cards are too precious to bet.")
		case card.ChatID != chat.ID:
			return c.Reply("❌ That card belongs to another chat.")
		}

		game, err := h.engine.Create(ctx, sender.ID, chat.ID, card)
		if err != nil {
			if errors.Is(err, cardgen.ErrNoEligibleUser) {
				return c.Reply("❌ Nobody in this chat has generated art yet, so there is no reward to play for.")
			}
			log.Error().Err(err).Msg("minesweeper create failed")
			return c.Reply("❌ Something went wrong.")
		}

		return h.sendBoard(c, game, fmt.Sprintf(
			"💣 Minesweeper! %s (%s) is on the line.\nReveal %d safe cells to win a new card.",
			game.BetCardTitle, game.BetCardRarity, minesweeper.SafeRevealsRequired,
		))
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return nil
	}
	return nil
}

// HandleRevealCallback handles a cell button press.
func (h *MinesweeperHandler) HandleRevealCallback(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || c.Callback() == nil {
		return nil
	}

	gameID, cell, ok := parseRevealData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}

	ran, guardErr := h.guard.Do(actionguard.ResourceKey("mines", gameID), func() error {
		ctx := context.Background()

		game, err := h.engine.GetByID(ctx, gameID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Game not found."})
		}
		if game.UserID != sender.ID {
			return c.Respond(&tele.CallbackResponse{Text: "Not your game."})
		}

		game, outcome, err := h.engine.Reveal(ctx, gameID, cell)
		if err != nil {
			if errors.Is(err, minesweeper.ErrCellOutOfRange) {
				return c.Respond()
			}
			log.Error().Err(err).Int64("game_id", gameID).Msg("reveal failed")
			return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
		}

		switch outcome {
		case minesweeper.RevealClaimPoint:
			if _, err := h.balances.IncrementClaimPoints(ctx, sender.ID, chat.ID, 1); err != nil {
				log.Error().Err(err).Msg("failed to credit claim point")
			} else {
				desc := fmt.Sprintf("minesweeper game %d", gameID)
				if _, err := h.ledger.Record(ctx, sender.ID, chat.ID, model.CurrencyClaimPoints, 1,
					model.LedgerTypeMinesAward, &desc); err != nil {
					log.Error().Err(err).Msg("failed to record claim point award")
				}
			}
			if err := c.Respond(&tele.CallbackResponse{Text: "🏵 Claim point!"}); err != nil {
				return err
			}
		case minesweeper.RevealMine:
			h.settleLoss(ctx, game)
			if err := c.Respond(&tele.CallbackResponse{Text: "💥 Boom! Your card is gone."}); err != nil {
				return err
			}
		case minesweeper.RevealWon:
			if err := c.Respond(&tele.CallbackResponse{Text: "🎉 You won a new card!"}); err != nil {
				return err
			}
			h.settleWin(ctx, c, game, identityOf(sender))
		default:
			if err := c.Respond(); err != nil {
				return err
			}
		}

		return h.editBoard(c, game)
	})
	if guardErr != nil {
		return guardErr
	}
	if !ran {
		return c.Respond()
	}
	return nil
}

// settleLoss forfeits the bet card. The game row keeps the snapshot.
func (h *MinesweeperHandler) settleLoss(ctx context.Context, game *model.MinesweeperGame) {
	deleted, err := h.cards.Delete(ctx, game.BetCardID)
	if err != nil {
		log.Error().Err(err).Int64("card_id", game.BetCardID).Msg("failed to forfeit bet card")
		return
	}
	if !deleted {
		log.Warn().Int64("card_id", game.BetCardID).Msg("bet card was locked or already gone")
	}
}

// settleWin generates the reward card from the source chosen at game
// creation and attaches it to the game.
func (h *MinesweeperHandler) settleWin(ctx context.Context, c tele.Context, game *model.MinesweeperGame, winner rolled.Identity) {
	source, err := h.sources.Get(ctx, game.SourceType, game.SourceID, game.ChatID)
	if err != nil || source == nil {
		log.Error().Err(err).Int64("game_id", game.ID).Msg("reward source vanished")
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	card, err := h.manager.Award(genCtx, winner, game.ChatID, source, h.table.Draw())
	if err != nil {
		log.Error().Err(err).Int64("game_id", game.ID).Msg("reward generation failed")
		_ = c.Send("⚠️ You won, but the reward card could not be generated. An admin can regenerate it.")
		return
	}
	if err := h.engine.AttachReward(ctx, game.ID, card.ID); err != nil {
		log.Error().Err(err).Int64("game_id", game.ID).Msg("failed to attach reward card")
	}

	photo := &tele.Photo{
		File:    tele.File{FileID: card.ImageFileID},
		Caption: fmt.Sprintf("🏆 Reward: %s (%s), already yours.", card.Title, card.Rarity),
	}
	if err := c.Send(photo); err != nil {
		log.Error().Err(err).Msg("failed to send reward card")
	}
}

// sendBoard posts the current board with its cell keyboard.
func (h *MinesweeperHandler) sendBoard(c tele.Context, game *model.MinesweeperGame, header string) error {
	return c.Send(header+"\n"+boardStatusLine(game), boardMarkup(game))
}

func (h *MinesweeperHandler) editBoard(c tele.Context, game *model.MinesweeperGame) error {
	return c.Edit(boardHeader(game)+"\n"+boardStatusLine(game), boardMarkup(game))
}

func boardHeader(game *model.MinesweeperGame) string {
	switch game.Status {
	case model.GameStatusWon:
		return "🎉 You made it out!"
	case model.GameStatusLost:
		return fmt.Sprintf("💥 %s (%s) is forfeit.", game.BetCardTitle, game.BetCardRarity)
	default:
		return fmt.Sprintf("💣 Betting %s (%s).", game.BetCardTitle, game.BetCardRarity)
	}
}

func boardStatusLine(game *model.MinesweeperGame) string {
	safe := 0
	for _, cell := range game.RevealedCells {
		if !cellIn(game.MinePositions, cell) && !cellIn(game.ClaimPointPositions, cell) {
			safe++
		}
	}
	return fmt.Sprintf("Safe reveals: %d/%d · Moves: %d", safe, minesweeper.SafeRevealsRequired, game.MovesCount)
}

// boardMarkup renders the 3x3 grid. Mines stay hidden until the game is
// terminal or the revealed cell itself was a mine; claim points show as
// they are uncovered.
func boardMarkup(game *model.MinesweeperGame) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	terminal := game.Status.Terminal()

	var rows []tele.Row
	for r := 0; r < 3; r++ {
		var row []tele.Btn
		for col := 0; col < 3; col++ {
			cell := int64(r*3 + col)
			label := "⬜"
			switch {
			case cellIn(game.RevealedCells, cell) && cellIn(game.MinePositions, cell):
				label = "💣"
			case cellIn(game.RevealedCells, cell) && cellIn(game.ClaimPointPositions, cell):
				label = "🏵"
			case cellIn(game.RevealedCells, cell):
				label = "✅"
			case terminal && cellIn(game.MinePositions, cell):
				label = "💣"
			case terminal && cellIn(game.ClaimPointPositions, cell):
				label = "🏵"
			}
			row = append(row, markup.Data(label, "mines_reveal",
				fmt.Sprintf("%d:%d", game.ID, cell)))
		}
		rows = append(rows, markup.Row(row...))
	}
	markup.Inline(rows...)
	return markup
}

func cellIn(cells []int64, cell int64) bool {
	for _, c := range cells {
		if c == cell {
			return true
		}
	}
	return false
}

func parseRevealData(data string) (gameID, cell int64, ok bool) {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[i+1:]
	}
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	gameID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	cell, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return gameID, cell, true
}
