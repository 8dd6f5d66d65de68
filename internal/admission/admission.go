// Package admission serializes completion requests: at most one in flight
// per conversation (or per user, depending on mode). Blocked users and
// concurrent requests are dropped silently; the owner bypasses both gates.
package admission

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgard/chatmemory/internal/blocklist"
	"github.com/edgard/chatmemory/internal/database"
)

// Mode selects what a busy flag is keyed by.
type Mode string

const (
	ModeConversation Mode = "conversation"
	ModeUser         Mode = "user"
)

// Reason tells why a request was not admitted.
type Reason int

const (
	Admitted Reason = iota
	RejectedBlocked
	RejectedBusy
)

func (r Reason) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case RejectedBlocked:
		return "blocked"
	case RejectedBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Controller holds one busy flag per admission key.
type Controller struct {
	ownerID string
	mode    Mode
	blocks  *blocklist.List
	now     func() time.Time

	flags sync.Map // string -> *atomic.Bool
}

// New creates a Controller. A nil now uses time.Now.
func New(ownerID string, mode Mode, blocks *blocklist.List, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	if mode != ModeUser {
		mode = ModeConversation
	}
	return &Controller{
		ownerID: ownerID,
		mode:    mode,
		blocks:  blocks,
		now:     now,
	}
}

func noop() {}

// TryAcquire admits userID for conv. On success the returned release must
// be called exactly once when the request sequence ends; it is safe to defer.
// On rejection no state is changed.
func (c *Controller) TryAcquire(conv database.ConversationKey, userID string) (func(), Reason) {
	if userID == c.ownerID {
		return noop, Admitted
	}
	if c.blocks != nil && c.blocks.IsBlocked(userID, c.now()) {
		return nil, RejectedBlocked
	}

	key := c.flagKey(conv, userID)
	v, _ := c.flags.LoadOrStore(key, &atomic.Bool{})
	flag := v.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		return nil, RejectedBusy
	}

	var once sync.Once
	return func() { once.Do(func() { flag.Store(false) }) }, Admitted
}

// Busy reports whether the flag for conv/userID is currently held.
func (c *Controller) Busy(conv database.ConversationKey, userID string) bool {
	v, ok := c.flags.Load(c.flagKey(conv, userID))
	return ok && v.(*atomic.Bool).Load()
}

func (c *Controller) flagKey(conv database.ConversationKey, userID string) string {
	if c.mode == ModeUser {
		return "user:" + userID
	}
	return conv.String()
}
