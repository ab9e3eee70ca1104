// Package cache implements the retention store: every inbound message is
// held long enough to survive a later deletion or view-once expiry. The
// cache is best-effort memory state, never persisted; after a restart it
// starts empty and anything received before the restart is unrecoverable.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"vaultbot/internal/domain"
)

// Store is a mutex-guarded dual-keyed message map. It is the single shared
// mutable resource in the core; every method holds the one lock, so a Get
// during a sweep sees either the pre- or post-sweep state, never a
// partially evicted one.
type Store struct {
	mu      sync.Mutex
	entries map[string]*domain.CachedMessage
	logger  *slog.Logger
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[string]*domain.CachedMessage),
		logger:  logger,
	}
}

// Put inserts or overwrites by primary id. If the id carries a
// transport-added suffix, the entry is also registered under its base id so
// either form resolves to the same logical message. Idempotent.
func (s *Store) Put(msg domain.CachedMessage) {
	if msg.PrimaryID == "" {
		return
	}
	if msg.BaseID == "" {
		if base, ok := domain.SplitSuffix(msg.PrimaryID); ok {
			msg.BaseID = base
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := msg
	s.entries[e.PrimaryID] = &e
	if e.BaseID != "" && e.BaseID != e.PrimaryID {
		s.entries[e.BaseID] = &e
	}
}

// Get resolves an id to a cached message: exact match first, then the base
// form of a suffixed id, then a bounded linear scan over prefix
// relationships. The scan is a safety net for transport id-format drift,
// not the common path; it is O(n) worst case only.
func (s *Store) Get(id string) (domain.CachedMessage, bool) {
	if id == "" {
		return domain.CachedMessage{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		return *e, true
	}
	if base, ok := domain.SplitSuffix(id); ok {
		if e, ok := s.entries[base]; ok {
			return *e, true
		}
	}
	for key, e := range s.entries {
		if prefixRelated(id, key) {
			return *e, true
		}
	}
	return domain.CachedMessage{}, false
}

// Update merges replacement content into an existing entry. The mirror key
// shares the entry, so both forms stay content-identical. Returns false
// (and logs a miss) if the entry is absent.
func (s *Store) Update(id string, p domain.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(id)
	if e == nil {
		s.logger.Debug("cache update miss", "id", id)
		return false
	}
	e.Payload = p
	return true
}

// SetSnapshot attaches an extracted media snapshot to an existing entry.
// A snapshot already present is never overwritten.
func (s *Store) SetSnapshot(id string, snap domain.MediaSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(id)
	if e == nil {
		s.logger.Debug("cache snapshot miss", "id", id)
		return false
	}
	if e.Snapshot != nil {
		return false
	}
	e.Snapshot = &snap
	return true
}

// Evict removes all entries older than maxAge and returns the number of
// logical messages removed (mirrors do not double-count).
func (s *Store) Evict(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !e.ReceivedAt.Before(cutoff) {
			continue
		}
		if key == e.PrimaryID {
			removed++
		}
		delete(s.entries, key)
	}
	return removed
}

// Len returns the number of logical messages cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		if key == e.PrimaryID {
			n++
		}
	}
	return n
}

// lookupLocked resolves an id with the same fallback chain as Get. Caller
// holds s.mu.
func (s *Store) lookupLocked(id string) *domain.CachedMessage {
	if e, ok := s.entries[id]; ok {
		return e
	}
	if base, ok := domain.SplitSuffix(id); ok {
		if e, ok := s.entries[base]; ok {
			return e
		}
	}
	for key, e := range s.entries {
		if prefixRelated(id, key) {
			return e
		}
	}
	return nil
}

// prefixRelated reports whether one id is the suffixed form of the other:
// the shorter must be a prefix of the longer with a "-" at the boundary.
func prefixRelated(a, b string) bool {
	if len(a) == len(b) {
		return false
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return strings.HasPrefix(long, short) && long[len(short)] == '-'
}
