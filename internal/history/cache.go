// Package history keeps a bounded, write-through mirror of the most recent
// messages of each conversation. The durable log lives in the database
// package; a cache only ever holds a suffix of it.
package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/edgard/chatmemory/internal/database"
)

const timeLayout = "2006-01-02 15:04:05"

// Cache is the bounded in-memory history of one conversation.
type Cache struct {
	key     database.ConversationKey
	store   database.Store
	maxSize int
	loc     *time.Location
	logger  *slog.Logger

	mu      sync.Mutex
	records []database.MessageRecord
}

// NewCache builds an empty cache for key. Load must be called before use.
func NewCache(key database.ConversationKey, store database.Store, maxSize int, loc *time.Location, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if loc == nil {
		loc = time.Local
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		key:     key,
		store:   store,
		maxSize: maxSize,
		loc:     loc,
		logger:  logger.With("component", "history", "key", key.String()),
	}
}

// Load replaces the cache content with the durable tail.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Init(ctx, c.key); err != nil {
		return err
	}
	return c.reloadLocked(ctx)
}

// reloadLocked refills records from the durable tail. On failure the cache
// is emptied, which keeps it a suffix of the log. c.mu must be held.
func (c *Cache) reloadLocked(ctx context.Context) error {
	records, err := c.store.Tail(ctx, c.key, c.maxSize)
	if err != nil {
		c.records = nil
		return err
	}
	c.records = records
	c.logger.DebugContext(ctx, "History loaded", "records", len(records))
	return nil
}

// ClearAll deletes the durable history and empties the cache. No append or
// snapshot can interleave with the truncation.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.ClearAll(ctx, c.key); err != nil {
		return err
	}
	c.records = nil
	return nil
}

// DeleteLatest deletes the n newest durable records and reloads the cache
// from what remains, holding the cache lock throughout.
func (c *Cache) DeleteLatest(ctx context.Context, n int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted, err := c.store.DeleteLatest(ctx, c.key, n)
	if err != nil {
		return 0, err
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Reload after truncation failed, cache emptied", "error", err)
		return deleted, err
	}
	return deleted, nil
}

// Append writes record through to the store and then mirrors it in memory,
// evicting the oldest entry once maxSize is exceeded. If the durable write
// fails the cache is left untouched.
func (c *Cache) Append(ctx context.Context, record database.MessageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Append(ctx, c.key, &record); err != nil {
		c.logger.ErrorContext(ctx, "Durable append failed, cache unchanged", "error", err)
		return err
	}

	c.records = append(c.records, record)
	if over := len(c.records) - c.maxSize; over > 0 {
		// Copy down so the backing array does not grow without bound.
		c.records = append(c.records[:0], c.records[over:]...)
	}
	return nil
}

// Len reports the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Records returns a copy of the cached records, oldest first.
func (c *Cache) Records() []database.MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]database.MessageRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Snapshot returns the cached records rendered as display lines, oldest first.
func (c *Cache) Snapshot() []string {
	records := c.Records()
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, FormatRecord(r, c.loc))
	}
	return lines
}

// FormatRecord renders one record as a history line.
func FormatRecord(r database.MessageRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("[%s] [bot id: %s] [bot name: %s] [%s %s] [user id: %s] [user name: %s]: %s",
		time.Unix(r.Timestamp, 0).In(loc).Format(timeLayout),
		r.BotID, r.BotName,
		r.Direction, r.ChatID,
		r.UserID, r.UserName,
		r.Content)
}
