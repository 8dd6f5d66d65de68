package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatmemory/internal/chat"
	"github.com/edgard/chatmemory/internal/database"
	"github.com/edgard/chatmemory/internal/dispatch"
)

// conversationKey maps a chat to its history key. Private chats are keyed
// by the other party's id, everything else by the chat id.
func conversationKey(msg *models.Message) database.ConversationKey {
	if msg.Chat.Type == models.ChatTypePrivate {
		return database.PrivateKey(strconv.FormatInt(msg.Chat.ID, 10))
	}
	return database.GroupKey(strconv.FormatInt(msg.Chat.ID, 10))
}

func displayName(u *models.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// messageParts renders text, photos and text mentions of msg. text replaces
// the message's own text when non-nil.
func messageParts(ctx context.Context, msg *models.Message, text *string, captioner Captioner) []dispatch.Part {
	var parts []dispatch.Part

	body := messageText(msg)
	if len(msg.Photo) > 0 {
		// The caption becomes the image description instead of body text.
		body = msg.Text
	}
	if text != nil {
		body = *text
	}
	if body = strings.TrimSpace(body); body != "" {
		parts = append(parts, dispatch.Part{Kind: dispatch.PartText, Value: body})
	}

	if len(msg.Photo) > 0 && captioner != nil {
		parts = append(parts, dispatch.Part{Kind: dispatch.PartImage, Value: captioner.Caption(ctx, msg)})
	}

	entities := msg.Entities
	if len(entities) == 0 {
		entities = msg.CaptionEntities
	}
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil {
			parts = append(parts, dispatch.Part{Kind: dispatch.PartMention, Value: strconv.FormatInt(e.User.ID, 10)})
		}
	}
	return parts
}

// newEvent maps a Telegram message to a chat event. text overrides the
// message text, e.g. with a command's arguments.
func newEvent(ctx context.Context, msg *models.Message, text *string, captioner Captioner) chat.Event {
	ev := chat.Event{
		Key:    conversationKey(msg),
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Time:   time.Unix(int64(msg.Date), 0),
		Input:  dispatch.Input{Parts: messageParts(ctx, msg, text, captioner)},
	}
	if msg.From != nil {
		ev.UserID = strconv.FormatInt(msg.From.ID, 10)
		ev.UserName = displayName(msg.From)
	}

	if r := msg.ReplyToMessage; r != nil {
		q := &dispatch.Quote{
			Time:  time.Unix(int64(r.Date), 0),
			Parts: messageParts(ctx, r, nil, captioner),
		}
		if r.From != nil {
			q.UserID = strconv.FormatInt(r.From.ID, 10)
			q.UserName = displayName(r.From)
		}
		ev.Input.Quote = q
	}
	return ev
}

// commandArgs returns the text after the leading /command[@bot] token.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return ""
}

func isCommand(msg *models.Message) bool {
	return strings.HasPrefix(strings.TrimSpace(messageText(msg)), "/")
}

// chatSender delivers reply segments to one chat. beforeSend, when set,
// runs ahead of every send and must be safe to call repeatedly.
type chatSender struct {
	b          *bot.Bot
	chatID     int64
	beforeSend func()
}

func (s chatSender) Send(ctx context.Context, text string) error {
	if s.beforeSend != nil {
		s.beforeSend()
	}
	_, err := s.b.SendMessage(ctx, &bot.SendMessageParams{ChatID: s.chatID, Text: text})
	return err
}
