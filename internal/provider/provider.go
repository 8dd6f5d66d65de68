// Package provider wraps the external text-completion services. A Provider
// makes exactly one call per Complete; retrying is the caller's business.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgard/chatmemory/internal/config"
	errs "github.com/edgard/chatmemory/internal/errors"
)

// Provider turns a prompt into a single completion.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg, logger), nil
	case "gemini":
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, errs.NewConfigError(fmt.Sprintf("unknown ai provider %q", cfg.Provider), nil)
	}
}
