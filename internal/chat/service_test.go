package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatmemory/internal/admission"
	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/database"
	"github.com/edgard/chatmemory/internal/dispatch"
	errs "github.com/edgard/chatmemory/internal/errors"
	"github.com/edgard/chatmemory/internal/history"
)

const owner = "1"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	prompts []string
	gate    chan struct{}
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, nil
}

type sink struct {
	mu   sync.Mutex
	sent []string
}

func (s *sink) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

type harness struct {
	svc      *Service
	store    database.Store
	provider *fakeProvider
	blocks   *blocklist.List
}

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()

	store := database.NewStore(t.TempDir(), nil)
	t.Cleanup(func() { _ = store.Close() })
	return newHarnessWithStore(t, reply, store)
}

func newHarnessWithStore(t *testing.T, reply string, store database.Store) *harness {
	t.Helper()

	now := func() time.Time { return fixedNow }
	blocks := blocklist.New(owner)
	p := &fakeProvider{reply: reply}
	d := dispatch.New(dispatch.Options{
		OwnerID:   owner,
		Separator: "|",
		Fallback:  "...",
		Retry:     dispatch.RetryPolicy{MaxAttempts: 2, AttemptTimeout: 5 * time.Second},
	}, dispatch.Deps{
		Provider: p,
		Blocks:   blocks,
		Now:      now,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})

	svc := NewService(Identity{OwnerID: owner, BotID: "42", BotName: "bot"}, Deps{
		Histories:  history.NewManager(store, 3, 3, time.UTC, nil),
		Blocks:     blocks,
		Admission:  admission.New(owner, admission.ModeConversation, blocks, now),
		Dispatcher: d,
		Persona:    "You are a test bot.",
		Location:   time.UTC,
		Now:        now,
	})
	return &harness{svc: svc, store: store, provider: p, blocks: blocks}
}

func textEvent(key database.ConversationKey, userID, text string) Event {
	return Event{
		Key:      key,
		ChatID:   key.ID,
		UserID:   userID,
		UserName: "user" + userID,
		Time:     fixedNow,
		Input:    dispatch.Input{Parts: []dispatch.Part{{Kind: dispatch.PartText, Value: text}}},
	}
}

func TestChatEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "hello|there")
	key := database.GroupKey("-100")

	ok, err := h.svc.Observe(ctx, textEvent(key, "7", "earlier chatter"))
	require.NoError(t, err)
	assert.True(t, ok)

	out := &sink{}
	res, err := h.svc.Chat(ctx, textEvent(key, "7", "how are you?"), out)
	require.NoError(t, err)
	assert.Equal(t, admission.Admitted, res.Reason)
	assert.Equal(t, []string{"hello", "there"}, out.sent)

	require.Len(t, h.provider.prompts, 1)
	prompt := h.provider.prompts[0]
	assert.Contains(t, prompt, "earlier chatter")
	assert.Contains(t, prompt, "|how are you?|")
	assert.NotContains(t, prompt, "[user id: 7] [user name: user7]: how are you?", "trigger is not part of its own history")

	records, err := h.store.Tail(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "earlier chatter", records[0].Content)
	assert.Equal(t, "how are you?", records[1].Content)
	assert.Equal(t, database.DirectionInbound, records[1].Direction)
	assert.Equal(t, "hello|there", records[2].Content)
	assert.Equal(t, database.DirectionOutbound, records[2].Direction)
	assert.Equal(t, "42", records[2].BotID)
}

func TestChatRejectsBusyConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "done")
	gate := make(chan struct{})
	h.provider.gate = gate
	key := database.GroupKey("-100")

	first := make(chan Outcome, 1)
	go func() {
		res, _ := h.svc.Chat(ctx, textEvent(key, "7", "first"), &sink{})
		first <- res
	}()

	require.Eventually(t, func() bool {
		h.provider.mu.Lock()
		defer h.provider.mu.Unlock()
		return len(h.provider.prompts) == 1
	}, 5*time.Second, 5*time.Millisecond)

	out := &sink{}
	res, err := h.svc.Chat(ctx, textEvent(key, "8", "second"), out)
	require.NoError(t, err)
	assert.Equal(t, admission.RejectedBusy, res.Reason)
	assert.Empty(t, out.sent)

	ownerOut := &sink{}
	h.provider.mu.Lock()
	h.provider.gate = nil
	h.provider.mu.Unlock()
	res, err = h.svc.Chat(ctx, textEvent(key, owner, "owner talks"), ownerOut)
	require.NoError(t, err)
	assert.Equal(t, admission.Admitted, res.Reason)
	assert.Equal(t, []string{"done"}, ownerOut.sent)

	close(gate)
	assert.Equal(t, admission.Admitted, (<-first).Reason)

	records, err := h.store.Tail(ctx, key, 0)
	require.NoError(t, err)
	for _, r := range records {
		assert.NotEqual(t, "second", r.Content, "rejected request leaves no trace")
	}
}

func TestChatAndObserveIgnoreBlockedUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "reply")
	key := database.PrivateKey("7")

	require.NoError(t, h.svc.Block(owner, "7", time.Minute))

	ok, err := h.svc.Observe(ctx, textEvent(key, "7", "hi"))
	require.NoError(t, err)
	assert.False(t, ok)

	out := &sink{}
	res, err := h.svc.Chat(ctx, textEvent(key, "7", "hi"), out)
	require.NoError(t, err)
	assert.Equal(t, admission.RejectedBlocked, res.Reason)
	assert.Empty(t, out.sent)
	assert.Empty(t, h.provider.prompts)

	records, err := h.store.Tail(ctx, key, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("owner only", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "x")
		key := database.GroupKey("1")

		assert.True(t, errs.IsUnauthorized(h.svc.ClearAll(ctx, "7", key)))
		_, err := h.svc.ClearLatest(ctx, "7", key, 1)
		assert.True(t, errs.IsUnauthorized(err))
		assert.True(t, errs.IsUnauthorized(h.svc.Block("7", "8", time.Minute)))
		_, err = h.svc.Unblock("7", "8")
		assert.True(t, errs.IsUnauthorized(err))
		_, err = h.svc.UnblockAll("7")
		assert.True(t, errs.IsUnauthorized(err))
	})

	t.Run("owner cannot be blocked", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "x")
		err := h.svc.Block(owner, owner, time.Hour)
		assert.ErrorIs(t, err, ErrOwnerProtected)
		assert.Empty(t, h.svc.ListBlocked())
	})

	t.Run("clear latest reloads cache", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "x")
		key := database.GroupKey("5")
		for _, text := range []string{"a", "b", "c", "d"} {
			_, err := h.svc.Observe(ctx, textEvent(key, "7", text))
			require.NoError(t, err)
		}

		deleted, err := h.svc.ClearLatest(ctx, owner, key, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		cache, err := h.svc.deps.Histories.Get(ctx, key)
		require.NoError(t, err)
		recs := cache.Records()
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0].Content)
		assert.Equal(t, "b", recs[1].Content)

		_, err = h.svc.ClearLatest(ctx, owner, key, 0)
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("clear all", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "x")
		key := database.GroupKey("6")
		_, err := h.svc.Observe(ctx, textEvent(key, "7", "a"))
		require.NoError(t, err)

		require.NoError(t, h.svc.ClearAll(ctx, owner, key))
		cache, err := h.svc.deps.Histories.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("block list lifecycle", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "x")
		require.NoError(t, h.svc.Block(owner, "8", 90*time.Second))
		require.NoError(t, h.svc.Block(owner, "9", time.Hour))

		assert.Equal(t, []blocklist.Entry{
			{UserID: "8", Remaining: 90 * time.Second},
			{UserID: "9", Remaining: time.Hour},
		}, h.svc.ListBlocked())

		removed, err := h.svc.Unblock(owner, "8")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = h.svc.Unblock(owner, "8")
		require.NoError(t, err)
		assert.False(t, removed)

		n, err := h.svc.UnblockAll(owner)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, h.svc.ListBlocked())
	})
}

// hookStore runs afterTruncate once a durable truncation has committed and can
// fail every Tail read.
type hookStore struct {
	database.Store

	mu            sync.Mutex
	failTail      bool
	afterTruncate func()
}

func (s *hookStore) setFailTail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTail = v
}

func (s *hookStore) Tail(ctx context.Context, key database.ConversationKey, n int) ([]database.MessageRecord, error) {
	s.mu.Lock()
	fail := s.failTail
	s.mu.Unlock()
	if fail {
		return nil, errs.NewStorageError("disk read error", nil)
	}
	return s.Store.Tail(ctx, key, n)
}

func (s *hookStore) ClearAll(ctx context.Context, key database.ConversationKey) error {
	if err := s.Store.ClearAll(ctx, key); err != nil {
		return err
	}
	s.runHook()
	return nil
}

func (s *hookStore) DeleteLatest(ctx context.Context, key database.ConversationKey, n int) (int64, error) {
	deleted, err := s.Store.DeleteLatest(ctx, key, n)
	if err != nil {
		return deleted, err
	}
	s.runHook()
	return deleted, nil
}

func (s *hookStore) runHook() {
	s.mu.Lock()
	hook := s.afterTruncate
	s.afterTruncate = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func newHookHarness(t *testing.T) (*harness, *hookStore) {
	t.Helper()
	base := database.NewStore(t.TempDir(), nil)
	t.Cleanup(func() { _ = base.Close() })
	store := &hookStore{Store: base}
	return newHarnessWithStore(t, "ok", store), store
}

func TestClearHistoryIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("chat during clear never sees cleared records", func(t *testing.T) {
		t.Parallel()
		h, store := newHookHarness(t)
		key := database.GroupKey("-200")
		_, err := h.svc.Observe(ctx, textEvent(key, "7", "cleared secret"))
		require.NoError(t, err)

		chatDone := make(chan error, 1)
		store.afterTruncate = func() {
			go func() {
				_, err := h.svc.Chat(ctx, textEvent(key, "7", "anyone there?"), &sink{})
				chatDone <- err
			}()
			// A chat that is not held back completes well within this window.
			select {
			case err := <-chatDone:
				chatDone <- err
			case <-time.After(100 * time.Millisecond):
			}
		}

		require.NoError(t, h.svc.ClearAll(ctx, owner, key))
		require.NoError(t, <-chatDone)

		h.provider.mu.Lock()
		defer h.provider.mu.Unlock()
		require.Len(t, h.provider.prompts, 1)
		assert.NotContains(t, h.provider.prompts[0], "cleared secret")
	})

	t.Run("failed reload drops deleted records", func(t *testing.T) {
		t.Parallel()
		h, store := newHookHarness(t)
		key := database.GroupKey("-201")
		for _, text := range []string{"kept", "deleted secret"} {
			_, err := h.svc.Observe(ctx, textEvent(key, "7", text))
			require.NoError(t, err)
		}

		store.setFailTail(true)
		_, err := h.svc.ClearLatest(ctx, owner, key, 1)
		require.Error(t, err)
		store.setFailTail(false)

		_, err = h.svc.Chat(ctx, textEvent(key, "7", "hello"), &sink{})
		require.NoError(t, err)

		h.provider.mu.Lock()
		defer h.provider.mu.Unlock()
		require.Len(t, h.provider.prompts, 1)
		assert.Contains(t, h.provider.prompts[0], "kept")
		assert.NotContains(t, h.provider.prompts[0], "deleted secret")
	})
}
