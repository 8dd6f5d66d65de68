// Package blocklist suppresses users for a limited time. Entries expire on
// their own: lookups drop expired entries and a periodic Sweep bounds memory.
package blocklist

import (
	"sort"
	"sync"
	"time"
)

// Entry is an active block as reported by ListActive.
type Entry struct {
	UserID    string
	Remaining time.Duration
}

// List is a concurrency-safe user_id → expiry map. The owner can never be blocked.
type List struct {
	ownerID string

	mu      sync.Mutex
	expires map[string]time.Time
}

// New creates an empty List protecting ownerID.
func New(ownerID string) *List {
	return &List{
		ownerID: ownerID,
		expires: make(map[string]time.Time),
	}
}

// IsBlocked reports whether userID has an expiry after now. An expired
// entry found on the way is removed.
func (l *List) IsBlocked(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.expires[userID]
	if !ok {
		return false
	}
	if !expiry.After(now) {
		delete(l.expires, userID)
		return false
	}
	return true
}

// Block suppresses userID until now+d, never shortening an existing block.
// It returns false without change for the owner, an empty id or a non-positive d.
func (l *List) Block(userID string, d time.Duration, now time.Time) bool {
	if userID == "" || userID == l.ownerID || d <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	expiry := now.Add(d)
	if existing, ok := l.expires[userID]; ok && existing.After(expiry) {
		return true
	}
	l.expires[userID] = expiry
	return true
}

// Expiry returns userID's stored expiry, expired or not.
func (l *List) Expiry(userID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.expires[userID]
	return expiry, ok
}

// Unblock removes userID and reports whether an entry existed.
func (l *List) Unblock(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.expires[userID]
	delete(l.expires, userID)
	return ok
}

// UnblockAll removes every entry and returns how many there were.
func (l *List) UnblockAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.expires)
	l.expires = make(map[string]time.Time)
	return n
}

// ListActive returns the active blocks sorted by user id.
func (l *List) ListActive(now time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, 0, len(l.expires))
	for userID, expiry := range l.expires {
		if remaining := expiry.Sub(now); remaining > 0 {
			entries = append(entries, Entry{UserID: userID, Remaining: remaining})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Sweep deletes expired entries and returns how many were removed.
func (l *List) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, expiry := range l.expires {
		if !expiry.After(now) {
			delete(l.expires, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}
