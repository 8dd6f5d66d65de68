package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatmemory/internal/command"
)

const storageTimeout = 30 * time.Second

// NewClearAllHandler returns a handler that wipes the current chat's memory.
func NewClearAllHandler(deps HandlerDeps) bot.HandlerFunc {
	return clearAllHandler{deps}.Handle
}

type clearAllHandler struct {
	deps HandlerDeps
}

func (h clearAllHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "clear_all")
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	caller := fmt.Sprint(msg.From.ID)
	if err := h.deps.Service.ClearAll(timeoutCtx, caller, conversationKey(msg)); err != nil {
		log.ErrorContext(ctx, "Failed to clear memory", "chat_id", msg.Chat.ID, "error", err)
		sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "Memory cleared", "chat_id", msg.Chat.ID)
	sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.ClearedAll)
}

// NewClearLatestHandler returns a handler that forgets the N most recent
// messages of the current chat.
func NewClearLatestHandler(deps HandlerDeps) bot.HandlerFunc {
	return clearLatestHandler{deps}.Handle
}

type clearLatestHandler struct {
	deps HandlerDeps
}

func (h clearLatestHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "clear_latest")
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	n, err := command.ParsePositiveInt(commandArgs(msg.Text))
	if err != nil {
		sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.InvalidNumber)
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	deleted, err := h.deps.Service.ClearLatest(timeoutCtx, fmt.Sprint(msg.From.ID), conversationKey(msg), n)
	if err != nil {
		log.ErrorContext(ctx, "Failed to clear latest messages", "chat_id", msg.Chat.ID, "count", n, "error", err)
		sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "Latest messages cleared", "chat_id", msg.Chat.ID, "requested", n, "deleted", deleted)
	sendText(ctx, b, log, msg.Chat.ID, fmt.Sprintf(h.deps.Config.Messages.ClearedLatest, deleted))
}
