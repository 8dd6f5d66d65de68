package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/database"
	errs "github.com/edgard/chatmemory/internal/errors"
)

const ownerID = "1"

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// scriptedProvider returns its replies in order, repeating the last one.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []string
}

type reply struct {
	text string
	err  error
}

func (p *scriptedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	r := p.replies[min(p.calls, len(p.replies)-1)]
	p.calls++
	return r.text, r.err
}

// blockingProvider waits for ctx to end.
type blockingProvider struct{ calls int }

func (p *blockingProvider) Complete(ctx context.Context, _ string) (string, error) {
	p.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

// recordingTimer fires immediately and remembers requested delays.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (t *recordingTimer) After(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	c := make(chan time.Time, 1)
	c <- time.Time{}
	return c
}

type recorder struct {
	records []database.MessageRecord
	err     error
}

func (r *recorder) Append(_ context.Context, rec database.MessageRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

type captureSender struct {
	sent []string
	err  error
}

func (s *captureSender) Send(_ context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func newDispatcher(p *scriptedProvider, blocks *blocklist.List, timer *recordingTimer, sleeps *[]time.Duration) *Dispatcher {
	return New(Options{
		OwnerID:   ownerID,
		Separator: "|",
		Fallback:  "...",
		Retry:     RetryPolicy{MaxAttempts: 3, AttemptTimeout: time.Second, Backoff: time.Second},
		MinDelay:  1111 * time.Millisecond,
		MaxDelay:  3333 * time.Millisecond,
	}, Deps{
		Provider: p,
		Blocks:   blocks,
		Now:      func() time.Time { return now },
		Timer:    timer,
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	})
}

func TestDispatchSegmentsAndPacing(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: "A|B||  C  |"}}}
	var sleeps []time.Duration
	d := newDispatcher(p, blocklist.New(ownerID), &recordingTimer{}, &sleeps)
	rec := &recorder{}
	sender := &captureSender{}

	res, err := d.Dispatch(context.Background(), Request{Prompt: "p", ChatID: "-100", UserID: "7", UserName: "alice", BotID: "42", BotName: "bot"}, rec, sender)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, sender.sent)
	assert.Equal(t, []string{"A", "B", "C"}, res.Segments)
	require.Len(t, sleeps, 2, "one pause before every segment after the first")
	for _, s := range sleeps {
		assert.GreaterOrEqual(t, s, 1111*time.Millisecond)
		assert.LessOrEqual(t, s, 3333*time.Millisecond)
	}

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, database.DirectionOutbound, got.Direction)
	assert.Equal(t, "A|B||  C  |", got.Content)
	assert.Equal(t, now.Unix(), got.Timestamp)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "42", got.BotID)
}

func TestDispatchFallbackAfterEmptyReplies(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: ""}, {text: "   \n"}, {text: "\t"}}}
	timer := &recordingTimer{}
	var sleeps []time.Duration
	d := newDispatcher(p, blocklist.New(ownerID), timer, &sleeps)
	rec := &recorder{}
	sender := &captureSender{}

	res, err := d.Dispatch(context.Background(), Request{Prompt: "p", ChatID: "-1", UserID: "7"}, rec, sender)
	require.NoError(t, err)

	assert.True(t, res.Exhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, timer.delays, "fixed backoff between attempts")
	assert.Equal(t, []string{"..."}, sender.sent)
	require.Len(t, rec.records, 1)
	assert.Equal(t, "...", rec.records[0].Content)
}

func TestDispatchRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{
		{err: errs.NewTransportError("status 500", nil)},
		{text: "hello"},
	}}
	var sleeps []time.Duration
	d := newDispatcher(p, nil, &recordingTimer{}, &sleeps)
	sender := &captureSender{}

	res, err := d.Dispatch(context.Background(), Request{Prompt: "p"}, &recorder{}, sender)
	require.NoError(t, err)
	assert.False(t, res.Exhausted)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"hello"}, sender.sent)
}

func TestDispatchDirectives(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		reply       string
		target      string
		wantBlocked bool
		wantExpiry  time.Duration
	}{
		{name: "english minutes", reply: "ok, block user 999 for 5 minutes|bye", target: "999", wantBlocked: true, wantExpiry: 300 * time.Second},
		{name: "compact form", reply: "屏蔽888&2小时", target: "888", wantBlocked: true, wantExpiry: 2 * time.Hour},
		{name: "owner is never blocked", reply: "block user 1 for 5 minutes", target: ownerID, wantBlocked: false},
		{name: "no directive", reply: "just chatting", target: "999", wantBlocked: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			blocks := blocklist.New(ownerID)
			p := &scriptedProvider{replies: []reply{{text: tc.reply}}}
			var sleeps []time.Duration
			d := newDispatcher(p, blocks, &recordingTimer{}, &sleeps)

			_, err := d.Dispatch(context.Background(), Request{Prompt: "p", UserID: "7"}, &recorder{}, &captureSender{})
			require.NoError(t, err)

			assert.Equal(t, tc.wantBlocked, blocks.IsBlocked(tc.target, now))
			if tc.wantBlocked {
				expiry, ok := blocks.Expiry(tc.target)
				require.True(t, ok)
				assert.Equal(t, now.Add(tc.wantExpiry), expiry)
			} else {
				assert.Equal(t, 0, blocks.Len())
			}
		})
	}
}

func TestDispatchRecordFailureStillDelivers(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: "one|two"}}}
	var sleeps []time.Duration
	d := newDispatcher(p, nil, &recordingTimer{}, &sleeps)
	sender := &captureSender{}
	rec := &recorder{err: errs.NewStorageError("disk full", nil)}

	_, err := d.Dispatch(context.Background(), Request{Prompt: "p"}, rec, sender)
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.Equal(t, []string{"one", "two"}, sender.sent)
}

func TestDispatchSendFailure(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: "one|two"}}}
	var sleeps []time.Duration
	d := newDispatcher(p, nil, &recordingTimer{}, &sleeps)
	boom := errors.New("network down")

	_, err := d.Dispatch(context.Background(), Request{Prompt: "p"}, &recorder{}, &captureSender{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestCompleteAttemptTimeoutAndDeadline(t *testing.T) {
	t.Parallel()

	t.Run("per attempt timeout counts as failure", func(t *testing.T) {
		t.Parallel()
		p := &blockingProvider{}
		out := Complete(context.Background(), p, "p", RetryPolicy{
			MaxAttempts:    2,
			AttemptTimeout: 10 * time.Millisecond,
		}, &recordingTimer{}, nil)
		assert.True(t, out.Exhausted)
		assert.Equal(t, 2, out.Attempts)
		assert.ErrorIs(t, out.LastErr, context.DeadlineExceeded)
	})

	t.Run("deadline ends the sequence", func(t *testing.T) {
		t.Parallel()
		p := &blockingProvider{}
		start := time.Now()
		out := Complete(context.Background(), p, "p", RetryPolicy{
			MaxAttempts:    20,
			AttemptTimeout: time.Minute,
			Deadline:       20 * time.Millisecond,
		}, &recordingTimer{}, nil)
		assert.True(t, out.Exhausted)
		assert.Less(t, out.Attempts, 20)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestSplitSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{name: "mixed empties", reply: "A|B||  C  |", want: []string{"A", "B", "C"}},
		{name: "no separator", reply: "  hello  ", want: []string{"hello"}},
		{name: "only separators", reply: "|||", want: nil},
		{name: "blank", reply: "  ", want: nil},
		{name: "multiline segment", reply: "line1\nline2|x", want: []string{"line1\nline2", "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitSegments(tc.reply, "|"))
		})
	}
}

func TestPacerDelayBounds(t *testing.T) {
	t.Parallel()

	lo, hi := 1111*time.Millisecond, 3333*time.Millisecond
	extremes := []func(int64) int64{
		func(int64) int64 { return 0 },
		func(n int64) int64 { return n - 1 },
	}
	for _, draw := range extremes {
		p := &Pacer{Min: lo, Max: hi, Int64N: draw}
		d := p.Delay()
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}

	random := &Pacer{Min: lo, Max: hi}
	for i := 0; i < 100; i++ {
		d := random.Delay()
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}

	fixed := &Pacer{Min: time.Second, Max: time.Second}
	assert.Equal(t, time.Second, fixed.Delay())
}

func TestPacerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pacer{Min: time.Hour, Max: time.Hour}
	sender := &captureSender{}

	err := p.Emit(ctx, sender, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, sender.sent)
}

func TestParseDirectives(t *testing.T) {
	t.Parallel()

	got := ParseDirectives("Block user 12 for 30 seconds. block user 13 for 2h and 屏蔽14&10分钟")
	assert.Equal(t, []Directive{
		{UserID: "12", Duration: 30 * time.Second},
		{UserID: "13", Duration: 2 * time.Hour},
		{UserID: "14", Duration: 10 * time.Minute},
	}, got)

	assert.Empty(t, ParseDirectives("block user 12 for 0 minutes"))
	assert.Empty(t, ParseDirectives("unblock userX for 5 minutes"))
}

func TestInputRender(t *testing.T) {
	t.Parallel()

	in := Input{
		Parts: []Part{
			{Kind: PartText, Value: "look at this"},
			{Kind: PartImage, Value: "a cat on a sofa"},
			{Kind: PartMention, Value: "42"},
		},
		Quote: &Quote{
			Time:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			UserID:   "8",
			UserName: "bob",
			Parts:    []Part{{Kind: PartText, Value: "earlier"}, {Kind: PartImage, Value: "a dog"}},
		},
	}

	want := "look at this [image: a cat on a sofa][at:42] [quoted text: 2024-03-01 09:00:00 bob (8): earlier] [quoted image: 2024-03-01 09:00:00 bob (8): a dog]"
	assert.Equal(t, want, in.Render(time.UTC))
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(PromptParams{
		History:  []string{"line one", "line two"},
		Persona:  "You are helpful.",
		UserID:   "7",
		UserName: "alice",
		Input:    "hi",
	})

	assert.Contains(t, prompt, "----------\nline one\nline two\n----------\n")
	assert.Contains(t, prompt, "You are helpful.")
	assert.Contains(t, prompt, "alice, id 7")
	assert.Contains(t, prompt, "|hi|")
	assert.Less(t, strings.Index(prompt, "line two"), strings.Index(prompt, "You are helpful."))
	assert.Less(t, strings.Index(prompt, "You are helpful."), strings.Index(prompt, "|hi|"))
}
