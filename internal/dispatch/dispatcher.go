package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/database"
	"github.com/edgard/chatmemory/internal/provider"
)

// Recorder stores the outbound reply. *history.Cache satisfies it.
type Recorder interface {
	Append(ctx context.Context, record database.MessageRecord) error
}

// Options holds the static settings of a Dispatcher.
type Options struct {
	OwnerID   string
	Separator string
	Fallback  string
	Retry     RetryPolicy
	MinDelay  time.Duration
	MaxDelay  time.Duration
}

// Deps are the collaborators of a Dispatcher. Now, Timer, Sleep and
// Int64N are optional and exist for tests.
type Deps struct {
	Provider provider.Provider
	Blocks   *blocklist.List
	Logger   *slog.Logger
	Now      func() time.Time
	Timer    retry.Timer
	Sleep    func(ctx context.Context, d time.Duration) error
	Int64N   func(n int64) int64
}

// Dispatcher runs the completion protocol for admitted chat requests.
type Dispatcher struct {
	opts   Options
	deps   Deps
	pacer  *Pacer
	logger *slog.Logger
}

func New(opts Options, deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Dispatcher{
		opts: opts,
		deps: deps,
		pacer: &Pacer{
			Min:    opts.MinDelay,
			Max:    opts.MaxDelay,
			Sleep:  deps.Sleep,
			Int64N: deps.Int64N,
		},
		logger: deps.Logger.With("component", "dispatcher"),
	}
}

// Request is one admitted chat request.
type Request struct {
	Prompt   string
	ChatID   string
	UserID   string
	UserName string
	BotID    string
	BotName  string
}

// Result describes what a dispatch did.
type Result struct {
	Reply      string
	Segments   []string
	Attempts   int
	Exhausted  bool
	Directives []Directive
	Applied    []Directive
}

// Dispatch completes req.Prompt, applies block directives from the reply,
// records the full reply once through rec and emits its segments through
// sender. Provider failures never surface: an exhausted sequence replies
// with the fallback text. A failed record is logged, delivery still
// happens, and the storage error is returned alongside any send error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, rec Recorder, sender Sender) (Result, error) {
	log := d.logger.With("chat_id", req.ChatID, "user_id", req.UserID)

	outcome := Complete(ctx, d.deps.Provider, req.Prompt, d.opts.Retry, d.deps.Timer, log)
	res := Result{
		Reply:     outcome.Reply,
		Attempts:  outcome.Attempts,
		Exhausted: outcome.Exhausted,
	}
	if outcome.Exhausted {
		res.Reply = d.opts.Fallback
		log.WarnContext(ctx, "Using fallback reply", "attempts", outcome.Attempts)
	}

	res.Directives = ParseDirectives(res.Reply)
	for _, dir := range res.Directives {
		if dir.UserID == d.opts.OwnerID {
			log.WarnContext(ctx, "Ignoring block directive targeting the owner")
			continue
		}
		if d.deps.Blocks != nil && d.deps.Blocks.Block(dir.UserID, dir.Duration, d.deps.Now()) {
			res.Applied = append(res.Applied, dir)
			log.InfoContext(ctx, "Applied block directive from reply", "target_user_id", dir.UserID, "duration", dir.Duration)
		}
	}

	var recordErr error
	if rec != nil {
		recordErr = rec.Append(ctx, database.MessageRecord{
			Timestamp: d.deps.Now().Unix(),
			BotID:     req.BotID,
			BotName:   req.BotName,
			Direction: database.DirectionOutbound,
			ChatID:    req.ChatID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Content:   res.Reply,
		})
		if recordErr != nil {
			log.ErrorContext(ctx, "Failed to record reply, delivering anyway", "error", recordErr)
		}
	}

	res.Segments = SplitSegments(res.Reply, d.opts.Separator)
	sendErr := d.pacer.Emit(ctx, sender, res.Segments)
	if sendErr != nil {
		log.ErrorContext(ctx, "Failed to deliver reply", "error", sendErr)
	}

	return res, errors.Join(recordErr, sendErr)
}
