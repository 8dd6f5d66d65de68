package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// SplitSegments splits reply on sep, dropping blank pieces and trimming
// separator characters and surrounding whitespace from the rest.
func SplitSegments(reply, sep string) []string {
	if sep == "" {
		if s := strings.TrimSpace(reply); s != "" {
			return []string{s}
		}
		return nil
	}

	var out []string
	for _, seg := range strings.Split(reply, sep) {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		seg = strings.TrimSpace(strings.Trim(seg, sep))
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Sender delivers one segment to the conversation.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Pacer emits segments with a uniform random pause in [Min, Max] before
// every segment after the first.
type Pacer struct {
	Min, Max time.Duration
	// Sleep waits for d or until ctx ends. Defaults to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Int64N returns a uniform value in [0, n). Defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// Delay draws the next inter-segment pause.
func (p *Pacer) Delay() time.Duration {
	lo, hi := p.Min, p.Max
	if hi < lo {
		hi = lo
	}
	span := int64(hi-lo) + 1
	draw := rand.Int64N
	if p.Int64N != nil {
		draw = p.Int64N
	}
	return lo + time.Duration(draw(span))
}

// Emit sends segments in order and stops at the first failure.
func (p *Pacer) Emit(ctx context.Context, sender Sender, segments []string) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for i, seg := range segments {
		if i > 0 {
			if err := sleep(ctx, p.Delay()); err != nil {
				return err
			}
		}
		if err := sender.Send(ctx, seg); err != nil {
			return fmt.Errorf("failed to send segment %d of %d: %w", i+1, len(segments), err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
