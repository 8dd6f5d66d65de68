package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatmemory/internal/chat"
	"github.com/edgard/chatmemory/internal/command"
)

// NewBlockListHandler returns a handler listing active blocks with their
// remaining time.
func NewBlockListHandler(deps HandlerDeps) bot.HandlerFunc {
	return blockListHandler{deps}.Handle
}

type blockListHandler struct {
	deps HandlerDeps
}

func (h blockListHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "block_list")
	if update.Message == nil {
		return
	}

	entries := h.deps.Service.ListBlocked()
	if len(entries) == 0 {
		sendText(ctx, b, log, update.Message.Chat.ID, h.deps.Config.Messages.NoBlockedUsers)
		return
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf(h.deps.Config.Messages.BlockedEntry, e.UserID, command.FormatRemaining(e.Remaining)))
	}
	sendText(ctx, b, log, update.Message.Chat.ID, strings.Join(lines, "\n"))
}

// NewBlockHandler returns a handler for "block <user_id> <n><unit>".
func NewBlockHandler(deps HandlerDeps) bot.HandlerFunc {
	return blockHandler{deps}.Handle
}

type blockHandler struct {
	deps HandlerDeps
}

func (h blockHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "block")
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	messages := h.deps.Config.Messages

	args, err := command.ParseBlockArgs(strings.Fields(commandArgs(msg.Text)))
	if err != nil {
		sendText(ctx, b, log, msg.Chat.ID, messages.BlockUsage)
		return
	}

	err = h.deps.Service.Block(fmt.Sprint(msg.From.ID), args.UserID, args.Duration)
	switch {
	case errors.Is(err, chat.ErrOwnerProtected):
		sendText(ctx, b, log, msg.Chat.ID, messages.OwnerProtected)
	case err != nil:
		log.WarnContext(ctx, "Block failed", "target_user_id", args.UserID, "error", err)
		sendText(ctx, b, log, msg.Chat.ID, messages.GeneralError)
	default:
		sendText(ctx, b, log, msg.Chat.ID, fmt.Sprintf(messages.Blocked, args.UserID, command.FormatRemaining(args.Duration)))
	}
}

// NewUnblockHandler returns a handler for "unblock <user_id>".
func NewUnblockHandler(deps HandlerDeps) bot.HandlerFunc {
	return unblockHandler{deps}.Handle
}

type unblockHandler struct {
	deps HandlerDeps
}

func (h unblockHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "unblock")
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	messages := h.deps.Config.Messages

	target, err := command.ParseUserID(commandArgs(msg.Text))
	if err != nil {
		sendText(ctx, b, log, msg.Chat.ID, messages.InvalidUserID)
		return
	}

	removed, err := h.deps.Service.Unblock(fmt.Sprint(msg.From.ID), target)
	switch {
	case err != nil:
		sendText(ctx, b, log, msg.Chat.ID, messages.GeneralError)
	case removed:
		sendText(ctx, b, log, msg.Chat.ID, fmt.Sprintf(messages.Unblocked, target))
	default:
		sendText(ctx, b, log, msg.Chat.ID, fmt.Sprintf(messages.NotBlocked, target))
	}
}

// NewUnblockAllHandler returns a handler that empties the block list.
func NewUnblockAllHandler(deps HandlerDeps) bot.HandlerFunc {
	return unblockAllHandler{deps}.Handle
}

type unblockAllHandler struct {
	deps HandlerDeps
}

func (h unblockAllHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "unblock_all")
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	n, err := h.deps.Service.UnblockAll(fmt.Sprint(msg.From.ID))
	if err != nil {
		sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
		return
	}
	log.InfoContext(ctx, "Block list cleared", "removed", n)
	sendText(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.UnblockedAll)
}
