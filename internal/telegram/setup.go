// Package telegram creates the Telegram client and installs the handler table on it.
package telegram

import (
	"log/slog"
	"sort"

	"github.com/go-telegram/bot"

	"github.com/edgard/chatmemory/internal/bot/handlers"
	errs "github.com/edgard/chatmemory/internal/errors"
)

// NewTelegramBot creates the go-telegram/bot client.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, errs.NewConfigError("telegram bot token cannot be empty", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, errs.NewTransportError("failed to create telegram bot", err)
	}

	log.Info("Telegram bot instance created")
	return b, nil
}

// applyMiddleware wraps handler so that mw[0] runs first.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterHandlers installs every entry of the table on b and returns the
// registered names in sorted order. Entries without a handler are skipped.
func RegisterHandlers(b *bot.Bot, logger *slog.Logger, table map[string]handlers.RegisteredHandler) ([]string, error) {
	if b == nil {
		return nil, errs.NewValidationError("bot instance cannot be nil", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	registered := names[:0]
	for _, name := range names {
		h := table[name]
		if h.Handler == nil {
			log.Warn("Skipping registration for nil handler", "name", name)
			continue
		}
		wrapped := applyMiddleware(h.Handler, h.Middleware)
		if h.Match != nil {
			b.RegisterHandlerMatchFunc(h.Match, wrapped)
		} else {
			b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, wrapped)
		}
		log.Debug("Registered handler", "name", name, "pattern", h.Pattern, "middleware_count", len(h.Middleware))
		registered = append(registered, name)
	}

	log.Info("Registered Telegram handlers", "count", len(registered))
	return registered, nil
}
