// Package chat is the conversation core the transport talks to: it records
// observed messages, runs admitted chat requests through the dispatcher and
// carries out the owner's memory and block-list commands.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/chatmemory/internal/admission"
	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/database"
	"github.com/edgard/chatmemory/internal/dispatch"
	errs "github.com/edgard/chatmemory/internal/errors"
	"github.com/edgard/chatmemory/internal/history"
)

// ErrOwnerProtected is returned when the owner is named as a block target.
var ErrOwnerProtected = errs.NewValidationError("the owner cannot be blocked", nil)

// Event is one inbound message as seen by the core.
type Event struct {
	Key      database.ConversationKey
	ChatID   string
	UserID   string
	UserName string
	Time     time.Time
	Input    dispatch.Input
}

// Identity names the bot in stored records and the owner for privilege checks.
type Identity struct {
	OwnerID string
	BotID   string
	BotName string
}

// Deps wires a Service.
type Deps struct {
	Histories  *history.Manager
	Blocks     *blocklist.List
	Admission  *admission.Controller
	Dispatcher *dispatch.Dispatcher
	Persona    string
	Location   *time.Location
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service implements the chat, observation and admin operations.
type Service struct {
	id   Identity
	deps Deps
	log  *slog.Logger
}

func NewService(id Identity, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Service{
		id:   id,
		deps: deps,
		log:  deps.Logger.With("component", "chat_service"),
	}
}

// SetBotIdentity fills in the bot's own id and name once the transport knows them.
func (s *Service) SetBotIdentity(botID, botName string) {
	s.id.BotID = botID
	s.id.BotName = botName
}

// IsOwner reports whether userID is the configured owner.
func (s *Service) IsOwner(userID string) bool {
	return userID != "" && userID == s.id.OwnerID
}

func (s *Service) inboundRecord(ev Event) database.MessageRecord {
	ts := ev.Time
	if ts.IsZero() {
		ts = s.deps.Now()
	}
	return database.MessageRecord{
		Timestamp: ts.Unix(),
		BotID:     s.id.BotID,
		BotName:   s.id.BotName,
		Direction: database.DirectionInbound,
		ChatID:    ev.ChatID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		Content:   ev.Input.Render(s.deps.Location),
	}
}

// Observe appends a non-command message to its conversation history.
// Messages from blocked users and messages with no content are skipped.
func (s *Service) Observe(ctx context.Context, ev Event) (bool, error) {
	if !s.IsOwner(ev.UserID) && s.deps.Blocks.IsBlocked(ev.UserID, s.deps.Now()) {
		s.log.DebugContext(ctx, "Ignoring message from blocked user", "user_id", ev.UserID)
		return false, nil
	}

	rec := s.inboundRecord(ev)
	if rec.Content == "" {
		return false, nil
	}

	cache, err := s.deps.Histories.Get(ctx, ev.Key)
	if err != nil {
		return false, err
	}
	if err := cache.Append(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Outcome reports what happened to a chat request.
type Outcome struct {
	Reason admission.Reason
	Result dispatch.Result
}

// Chat runs one chat request. Rejected requests (blocked user, or the
// admission key already busy) return immediately with no reply and no state
// change. Admitted requests always produce a reply, the fallback text at
// worst; returned errors concern storage or delivery only.
func (s *Service) Chat(ctx context.Context, ev Event, sender dispatch.Sender) (Outcome, error) {
	release, reason := s.deps.Admission.TryAcquire(ev.Key, ev.UserID)
	if reason != admission.Admitted {
		s.log.InfoContext(ctx, "Chat request dropped", "key", ev.Key.String(), "user_id", ev.UserID, "reason", reason.String())
		return Outcome{Reason: reason}, nil
	}
	defer release()

	cache, err := s.deps.Histories.Get(ctx, ev.Key)
	if err != nil {
		return Outcome{Reason: reason}, err
	}

	lines := cache.Snapshot()
	trigger := s.inboundRecord(ev)
	prompt := dispatch.BuildPrompt(dispatch.PromptParams{
		History:  lines,
		Persona:  s.deps.Persona,
		UserID:   ev.UserID,
		UserName: ev.UserName,
		Input:    trigger.Content,
	})

	// Recorded after the snapshot so the prompt carries it only once.
	triggerErr := cache.Append(ctx, trigger)
	if triggerErr != nil {
		s.log.ErrorContext(ctx, "Failed to record trigger message", "key", ev.Key.String(), "error", triggerErr)
	}

	start := time.Now()
	res, err := s.deps.Dispatcher.Dispatch(ctx, dispatch.Request{
		Prompt:   prompt,
		ChatID:   ev.ChatID,
		UserID:   ev.UserID,
		UserName: ev.UserName,
		BotID:    s.id.BotID,
		BotName:  s.id.BotName,
	}, cache, sender)

	s.log.InfoContext(ctx, "Chat request completed",
		"key", ev.Key.String(),
		"user_id", ev.UserID,
		"attempts", res.Attempts,
		"exhausted", res.Exhausted,
		"segments", len(res.Segments),
		"duration", time.Since(start))

	return Outcome{Reason: reason, Result: res}, errors.Join(triggerErr, err)
}

func (s *Service) requireOwner(callerID string) error {
	if !s.IsOwner(callerID) {
		return errs.NewUnauthorizedError("owner-only command")
	}
	return nil
}

// ClearAll deletes the whole history of key, durable and cached.
func (s *Service) ClearAll(ctx context.Context, callerID string, key database.ConversationKey) error {
	if err := s.requireOwner(callerID); err != nil {
		return err
	}
	return s.deps.Histories.ClearAll(ctx, key)
}

// ClearLatest deletes the n most recent records of key and returns how many went.
func (s *Service) ClearLatest(ctx context.Context, callerID string, key database.ConversationKey, n int) (int64, error) {
	if err := s.requireOwner(callerID); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errs.NewValidationError("count must be positive", nil)
	}
	return s.deps.Histories.DeleteLatest(ctx, key, n)
}

// Block suppresses target for d, extending but never shortening an active block.
func (s *Service) Block(callerID, target string, d time.Duration) error {
	if err := s.requireOwner(callerID); err != nil {
		return err
	}
	if s.IsOwner(target) {
		return ErrOwnerProtected
	}
	if !s.deps.Blocks.Block(target, d, s.deps.Now()) {
		return errs.NewValidationError("invalid block target or duration", nil)
	}
	s.log.Info("User blocked by owner", "target_user_id", target, "duration", d)
	return nil
}

// Unblock lifts target's block and reports whether one existed.
func (s *Service) Unblock(callerID, target string) (bool, error) {
	if err := s.requireOwner(callerID); err != nil {
		return false, err
	}
	return s.deps.Blocks.Unblock(target), nil
}

// UnblockAll clears the block list and returns how many entries it held.
func (s *Service) UnblockAll(callerID string) (int, error) {
	if err := s.requireOwner(callerID); err != nil {
		return 0, err
	}
	return s.deps.Blocks.UnblockAll(), nil
}

// ListBlocked returns the active blocks with their remaining time.
func (s *Service) ListBlocked() []blocklist.Entry {
	return s.deps.Blocks.ListActive(s.deps.Now())
}

// SweepBlocks drops expired block entries.
func (s *Service) SweepBlocks() int {
	return s.deps.Blocks.Sweep(s.deps.Now())
}
