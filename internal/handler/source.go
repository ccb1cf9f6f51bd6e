package handler

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/repository"
)

// SourceHandler registers the art sources cards are generated from.
type SourceHandler struct {
	sources *repository.SourceRepository
}

// NewSourceHandler creates a new SourceHandler.
func NewSourceHandler(sources *repository.SourceRepository) *SourceHandler {
	return &SourceHandler{sources: sources}
}

// HandleSetArt handles /setart: send a photo with the command (or reply
// to one) to register yourself as an art source in this chat.
func (h *SourceHandler) HandleSetArt(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	msg := c.Message()
	if sender == nil || chat == nil || msg == nil {
		return nil
	}

	photo := msg.Photo
	if photo == nil && msg.ReplyTo != nil {
		photo = msg.ReplyTo.Photo
	}
	if photo == nil {
		return c.Reply("📷 Attach a photo to /setart, or reply to one.")
	}

	name := sender.Username
	if name == "" {
		name = sender.FirstName
	}

	err := h.sources.Upsert(context.Background(), &model.SourceProfile{
		Type:           model.SourceUser,
		ID:             sender.ID,
		ChatID:         chat.ID,
		DisplayName:    name,
		PortraitFileID: photo.FileID,
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("failed to register art source")
		return c.Reply("❌ Something went wrong.")
	}

	return c.Reply("🎨 Your art is set. Cards can now be generated from it.")
}

// HandleAddCharacter handles "/addcharacter <name>" with a photo:
// registers a named character as an art source for the chat.
func (h *SourceHandler) HandleAddCharacter(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	msg := c.Message()
	if sender == nil || chat == nil || msg == nil {
		return nil
	}

	name := strings.TrimSpace(strings.Join(c.Args(), " "))
	if name == "" {
		return c.Reply("Usage: /addcharacter <name> with a photo attached.")
	}

	photo := msg.Photo
	if photo == nil && msg.ReplyTo != nil {
		photo = msg.ReplyTo.Photo
	}
	if photo == nil {
		return c.Reply("📷 Attach the character's portrait, or reply to one.")
	}

	// Characters get IDs from a hash of their name so re-adding the
	// same character updates it instead of duplicating.
	err := h.sources.Upsert(context.Background(), &model.SourceProfile{
		Type:           model.SourceCharacter,
		ID:             characterID(name),
		ChatID:         chat.ID,
		DisplayName:    name,
		PortraitFileID: photo.FileID,
	})
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to register character")
		return c.Reply("❌ Something went wrong.")
	}

	return c.Reply("🎭 Character " + name + " registered.")
}

// characterID derives a stable positive ID from the character name.
func characterID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64() >> 2)
}
