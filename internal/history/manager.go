package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgard/chatmemory/internal/database"
)

const loadTimeout = 30 * time.Second

// Manager hands out one loaded Cache per conversation key, creating caches
// lazily and living for the process lifetime.
type Manager struct {
	store       database.Store
	groupSize   int
	privateSize int
	loc         *time.Location
	logger      *slog.Logger

	mu     sync.RWMutex
	caches map[database.ConversationKey]*Cache
	loads  singleflight.Group
}

// NewManager creates a Manager whose caches hold at most groupSize records for
// group conversations and privateSize for private ones.
func NewManager(store database.Store, groupSize, privateSize int, loc *time.Location, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		store:       store,
		groupSize:   groupSize,
		privateSize: privateSize,
		loc:         loc,
		logger:      logger,
		caches:      make(map[database.ConversationKey]*Cache),
	}
}

// MaxSize returns the cache bound for key's scope.
func (m *Manager) MaxSize(key database.ConversationKey) int {
	if key.Scope == database.ScopeGroup {
		return m.groupSize
	}
	return m.privateSize
}

// Get returns the loaded cache for key. Concurrent first calls for the same
// key share a single load.
func (m *Manager) Get(ctx context.Context, key database.ConversationKey) (*Cache, error) {
	m.mu.RLock()
	cache, ok := m.caches[key]
	m.mu.RUnlock()
	if ok {
		return cache, nil
	}

	v, err, _ := m.loads.Do(key.String(), func() (any, error) {
		m.mu.RLock()
		existing, ok := m.caches[key]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		c := NewCache(key, m.store, m.MaxSize(key), m.loc, m.logger)
		if err := c.Load(loadCtx); err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.caches[key] = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cache), nil
}

// ClearAll deletes key's whole history, durable and cached.
func (m *Manager) ClearAll(ctx context.Context, key database.ConversationKey) error {
	cache, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	return cache.ClearAll(ctx)
}

// DeleteLatest deletes key's n newest records. If the cache cannot be
// reloaded afterwards it is dropped, so the next Get reads the store again.
func (m *Manager) DeleteLatest(ctx context.Context, key database.ConversationKey, n int) (int64, error) {
	cache, err := m.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	deleted, err := cache.DeleteLatest(ctx, n)
	if err != nil {
		m.evict(key, cache)
	}
	return deleted, err
}

func (m *Manager) evict(key database.ConversationKey, cache *Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caches[key] == cache {
		delete(m.caches, key)
		m.logger.Warn("History cache evicted", "key", key.String())
	}
}
