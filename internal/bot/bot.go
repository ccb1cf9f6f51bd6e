// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/config"
	"telegram-card-bot/internal/game"
	"telegram-card-bot/internal/handler"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot      *tele.Bot
	cfg      *config.Config
	registry *game.Registry

	rollHandler    *handler.RollHandler
	minesHandler   *handler.MinesweeperHandler
	rtbHandler     *handler.RideTheBusHandler
	slotsHandler   *handler.SlotsHandler
	accountHandler *handler.AccountHandler
	sourceHandler  *handler.SourceHandler
}

// Dependencies holds everything the bot handlers need.
type Dependencies struct {
	Config         *config.Config
	Registry       *game.Registry
	RollHandler    *handler.RollHandler
	MinesHandler   *handler.MinesweeperHandler
	RTBHandler     *handler.RideTheBusHandler
	SlotsHandler   *handler.SlotsHandler
	AccountHandler *handler.AccountHandler
	SourceHandler  *handler.SourceHandler
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		registry:       deps.Registry,
		rollHandler:    deps.RollHandler,
		minesHandler:   deps.MinesHandler,
		rtbHandler:     deps.RTBHandler,
		slotsHandler:   deps.SlotsHandler,
		accountHandler: deps.AccountHandler,
		sourceHandler:  deps.SourceHandler,
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/help", b.handleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/cards", b.accountHandler.HandleCards)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)
	b.bot.Handle("/burn", b.accountHandler.HandleBurn)

	b.bot.Handle("/setart", b.sourceHandler.HandleSetArt)
	b.bot.Handle("/addcharacter", b.sourceHandler.HandleAddCharacter)

	b.bot.Handle("/roll", b.rollHandler.HandleRoll)
	b.bot.Handle("/mines", b.minesHandler.HandleMines)
	b.bot.Handle("/rtb", b.rtbHandler.HandleRTB)
	b.bot.Handle("/slot", b.slotsHandler.HandleSlot)
	b.bot.Handle("/megaspin", b.slotsHandler.HandleMegaspin)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/grant", b.accountHandler.HandleGrant)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

func (b *Bot) handleStart(c tele.Context) error {
	return b.accountHandler.HandleStart(c)
}

// handleCallback routes button callbacks by their data prefix.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")

	switch {
	case strings.HasPrefix(data, "card_claim"):
		return b.rollHandler.HandleClaimCallback(c)
	case strings.HasPrefix(data, "card_lock"):
		return b.rollHandler.HandleLockCallback(c)
	case strings.HasPrefix(data, "card_reroll"):
		return b.rollHandler.HandleRerollCallback(c)
	case strings.HasPrefix(data, "mines_reveal"):
		return b.minesHandler.HandleRevealCallback(c)
	case strings.HasPrefix(data, "rtb_guess"):
		return b.rtbHandler.HandleGuessCallback(c)
	case strings.HasPrefix(data, "rtb_cashout"):
		return b.rtbHandler.HandleCashOutCallback(c)
	default:
		log.Debug().Str("data", data).Msg("unrouted callback")
		return c.Respond()
	}
}

// Start starts the bot polling.
func (b *Bot) Start() {
	log.Info().Int("games", b.registry.Count()).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// GetBot returns the underlying telebot instance.
func (b *Bot) GetBot() *tele.Bot {
	return b.bot
}
