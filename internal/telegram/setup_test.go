package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatmemory/internal/bot/handlers"
	errs "github.com/edgard/chatmemory/internal/errors"
)

func TestApplyMiddlewareOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) bot.Middleware {
		return func(next bot.HandlerFunc) bot.HandlerFunc {
			return func(ctx context.Context, b *bot.Bot, u *models.Update) {
				order = append(order, name)
				next(ctx, b, u)
			}
		}
	}
	h := applyMiddleware(func(context.Context, *bot.Bot, *models.Update) {
		order = append(order, "handler")
	}, []bot.Middleware{mw("outer"), mw("inner")})

	h(context.Background(), nil, &models.Update{})
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestNewTelegramBotRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	_, err := NewTelegramBot("", nil)
	assert.Equal(t, errs.CodeConfig, errs.Code(err))
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	t.Cleanup(srv.Close)

	b, err := NewTelegramBot("123:test", nil, bot.WithServerURL(srv.URL), bot.WithSkipGetMe(),
		bot.WithNotAsyncHandlers(), bot.WithDefaultHandler(func(context.Context, *bot.Bot, *models.Update) {}))
	require.NoError(t, err)

	var hits []string
	record := func(name string) bot.HandlerFunc {
		return func(context.Context, *bot.Bot, *models.Update) { hits = append(hits, name) }
	}
	names, err := RegisterHandlers(b, nil, map[string]handlers.RegisteredHandler{
		"/help": {HandlerType: bot.HandlerTypeMessageText, Pattern: "help", Handler: record("help"), MatchType: bot.MatchTypeExact},
		"/block": {
			Pattern: "block",
			Handler: record("block"),
			Match: func(u *models.Update) bool {
				return u.Message != nil && u.Message.Text == "/block@mybot"
			},
		},
		"/nil": {Pattern: "nil"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/block", "/help"}, names)

	ctx := context.Background()
	b.ProcessUpdate(ctx, &models.Update{Message: &models.Message{Text: "help"}})
	b.ProcessUpdate(ctx, &models.Update{Message: &models.Message{Text: "/block@mybot"}})
	b.ProcessUpdate(ctx, &models.Update{Message: &models.Message{Text: "/block@other"}})
	assert.Equal(t, []string{"help", "block"}, hits)

	_, err = RegisterHandlers(nil, nil, nil)
	assert.True(t, errs.IsValidation(err))
}
