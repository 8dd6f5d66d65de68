package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/edgard/chatmemory/internal/provider"
)

var errEmptyReply = errors.New("provider returned an empty reply")

// RetryPolicy bounds a completion sequence.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        time.Duration
	// Deadline bounds the whole sequence, backoff included. Zero means none.
	Deadline time.Duration
}

// Outcome is the typed result of a completion sequence. Exhausted is set
// when no attempt produced a usable reply; Reply is then empty.
type Outcome struct {
	Reply     string
	Attempts  int
	Exhausted bool
	LastErr   error
}

// Complete calls p until it returns a non-blank reply, at most
// policy.MaxAttempts times with a fixed backoff in between. Transport errors,
// attempt timeouts and blank replies all count as failed attempts; none of
// them escape as errors. timer may be nil.
func Complete(ctx context.Context, p provider.Provider, prompt string, policy RetryPolicy, timer retry.Timer, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Deadline)
		defer cancel()
	}

	attempts := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.Delay(policy.Backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WarnContext(ctx, "Completion attempt failed",
				"attempt", n+1, "max_attempts", maxAttempts, "error", err)
		}),
	}
	if timer != nil {
		opts = append(opts, retry.WithTimer(timer))
	}

	reply, err := retry.DoWithData(func() (string, error) {
		attempts++
		attemptCtx := ctx
		if policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
			defer cancel()
		}

		start := time.Now()
		text, err := p.Complete(attemptCtx, prompt)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", errEmptyReply
		}
		logger.DebugContext(ctx, "Completion succeeded", "attempt", attempts, "duration", time.Since(start))
		return text, nil
	}, opts...)

	if err != nil {
		logger.ErrorContext(ctx, "Completion exhausted", "attempts", attempts, "error", err)
		return Outcome{Attempts: attempts, Exhausted: true, LastErr: err}
	}
	return Outcome{Reply: reply, Attempts: attempts}
}
