package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler is one entry of the handler table. Match, when set,
// takes precedence over HandlerType, Pattern and MatchType.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
	Match       tgbot.MatchFunc
}

// RegisterAllCommands returns the command table keyed by the slash command.
// Non-command messages go to the observe handler installed as the bot's
// default handler.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	admin := AdminOnly(deps)
	chatCmd := deps.Config.Telegram.ChatCommand
	botName := func() string { return deps.Config.Telegram.BotName }
	cmdEntry := func(name string, h tgbot.HandlerFunc, mw ...tgbot.Middleware) RegisteredHandler {
		return RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     name,
			Handler:     h,
			Middleware:  mw,
			Match:       commandMatch(name, botName),
		}
	}

	return map[string]RegisteredHandler{
		"/start":      cmdEntry("start", NewHelpHandler(deps)),
		"/help":       cmdEntry("help", NewHelpHandler(deps)),
		"/block_list": cmdEntry("block_list", NewBlockListHandler(deps)),
		"/" + chatCmd: cmdEntry(chatCmd, NewChatHandler(deps)),

		// Photos carry the trigger in their caption.
		"/" + chatCmd + " (photo)": {
			HandlerType: tgbot.HandlerTypePhotoCaption,
			Pattern:     chatCmd,
			Handler:     NewChatHandler(deps),
			Match:       photoCommandMatch(chatCmd, botName),
		},

		"/clear_all":    cmdEntry("clear_all", NewClearAllHandler(deps), admin),
		"/clear_latest": cmdEntry("clear_latest", NewClearLatestHandler(deps), admin),
		"/block":        cmdEntry("block", NewBlockHandler(deps), admin),
		"/unblock":      cmdEntry("unblock", NewUnblockHandler(deps), admin),
		"/unblock_all":  cmdEntry("unblock_all", NewUnblockAllHandler(deps), admin),
	}
}
