package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/genai"

	"github.com/edgard/chatmemory/internal/config"
	errs "github.com/edgard/chatmemory/internal/errors"
)

// Gemini sends the prompt as a single user turn to the Gemini API.
type Gemini struct {
	client        *genai.Client
	model         string
	contentConfig *genai.GenerateContentConfig
	log           *slog.Logger
}

func NewGemini(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.APIKey == "" {
		return nil, errs.NewConfigError("gemini API key is required", nil)
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.NewConfigError("failed to create genai client", err)
	}

	temperature := cfg.Temperature
	log := logger.With("component", "gemini_provider")
	log.Info("Gemini provider initialized", "model", cfg.Model)

	return &Gemini{
		client: gi,
		model:  cfg.Model,
		contentConfig: &genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: int32(cfg.MaxTokens), //nolint:gosec // bounded by config validation
		},
		log: log,
	}, nil
}

func (p *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, p.contentConfig)
	if err != nil {
		p.log.WarnContext(ctx, "Gemini call failed", "error", err)
		return "", errs.NewTransportError("gemini call failed", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return "", errs.NewTransportError(fmt.Sprintf("gemini request blocked: %v", resp.PromptFeedback.BlockReason), nil)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errs.NewTransportError("gemini returned no candidates", nil)
	}

	return resp.Text(), nil
}
