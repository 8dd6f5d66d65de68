package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/edgard/chatmemory/internal/config"
	errs "github.com/edgard/chatmemory/internal/errors"
)

// OpenAI speaks the chat-completions protocol to any compatible endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	log         *slog.Logger
}

// NewOpenAI creates a client for cfg.BaseURL; requests go to <base_url>/chat/completions.
func NewOpenAI(cfg config.AIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	aiCfg := openai.DefaultConfig(cfg.APIKey)
	aiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &OpenAI{
		client:      openai.NewClientWithConfig(aiCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         logger.With("component", "openai_provider"),
	}
}

func (p *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	duration := time.Since(start)

	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			p.log.WarnContext(ctx, "Chat completion returned an error status",
				"status", apiErr.HTTPStatusCode, "error", apiErr.Message, "duration_ms", duration.Milliseconds())
			return "", errs.NewTransportError(fmt.Sprintf("chat completion failed with status %d", apiErr.HTTPStatusCode), err)
		}
		p.log.WarnContext(ctx, "Chat completion failed", "error", err, "duration_ms", duration.Milliseconds())
		return "", errs.NewTransportError("chat completion failed", err)
	}

	if len(resp.Choices) == 0 {
		return "", errs.NewTransportError("no response choices returned", nil)
	}

	p.log.DebugContext(ctx, "Received chat completion",
		"duration_ms", duration.Milliseconds(),
		"completion_tokens", resp.Usage.CompletionTokens,
		"prompt_tokens", resp.Usage.PromptTokens)

	return resp.Choices[0].Message.Content, nil
}
