package handlers

import (
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// commandMatch matches messages whose text starts with /name, optionally
// addressed as /name@bot. Commands addressed to another bot do not match.
// botName is read on every update since it is only known after GetMe.
func commandMatch(name string, botName func() string) tgbot.MatchFunc {
	return func(update *models.Update) bool {
		if update.Message == nil {
			return false
		}
		return isCommandFor(update.Message.Text, name, botName())
	}
}

// photoCommandMatch is commandMatch for the caption of a photo message.
func photoCommandMatch(name string, botName func() string) tgbot.MatchFunc {
	return func(update *models.Update) bool {
		msg := update.Message
		if msg == nil || len(msg.Photo) == 0 {
			return false
		}
		return isCommandFor(msg.Caption, name, botName())
	}
}

func isCommandFor(text, name, botName string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false
	}
	cmd, target, addressed := strings.Cut(fields[0][1:], "@")
	if addressed && botName != "" && !strings.EqualFold(target, botName) {
		return false
	}
	return cmd == name
}
