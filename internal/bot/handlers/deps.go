package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatmemory/internal/chat"
	"github.com/edgard/chatmemory/internal/config"
)

// Captioner turns an attached photo into text for the prompt.
type Captioner interface {
	Caption(ctx context.Context, msg *models.Message) string
}

// CaptionPassthrough uses the message's own caption, or a fixed label when
// there is none.
type CaptionPassthrough struct{}

func (CaptionPassthrough) Caption(_ context.Context, msg *models.Message) string {
	if msg.Caption != "" {
		return msg.Caption
	}
	return "photo"
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Service   *chat.Service
	Captioner Captioner
}
