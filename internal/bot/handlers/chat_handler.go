package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewChatHandler returns the handler for the chat trigger command. The
// command's arguments, attachments and quoted message form the input.
func NewChatHandler(deps HandlerDeps) bot.HandlerFunc {
	return chatHandler{deps}.Handle
}

type chatHandler struct {
	deps HandlerDeps
}

func (h chatHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update without message or sender", "update_id", update.ID)
		return
	}

	args := commandArgs(messageText(msg))
	ev := newEvent(ctx, msg, &args, h.deps.Captioner)
	if len(ev.Input.Parts) == 0 && ev.Input.Quote == nil {
		sendText(ctx, b, log, msg.Chat.ID, helpText(h.deps))
		return
	}

	stopTyping := startTyping(ctx, b, log, msg.Chat.ID)
	out, err := h.deps.Service.Chat(ctx, ev, chatSender{b: b, chatID: msg.Chat.ID, beforeSend: stopTyping})
	stopTyping()
	if err != nil {
		log.ErrorContext(ctx, "Chat request finished with errors", "chat_id", msg.Chat.ID, "user_id", ev.UserID, "reason", out.Reason.String(), "error", err)
	}
}

// NewObserveHandler returns the default handler: every non-command message
// is recorded into its conversation history.
func NewObserveHandler(deps HandlerDeps) bot.HandlerFunc {
	return observeHandler{deps}.Handle
}

type observeHandler struct {
	deps HandlerDeps
}

func (h observeHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || isCommand(msg) {
		return
	}

	ev := newEvent(ctx, msg, nil, h.deps.Captioner)
	if _, err := h.deps.Service.Observe(ctx, ev); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to record message", "handler", "observe", "chat_id", msg.Chat.ID, "error", err)
	}
}
