package recovery

import (
	"sync"
	"time"
)

// MarkerSet tracks "already notified" target ids so the same deletion
// observed via both paths (control message and explicit delete list)
// produces exactly one notification. It shares the cache's eviction
// cadence and lock discipline.
type MarkerSet struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMarkerSet creates an empty MarkerSet.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{seen: make(map[string]time.Time)}
}

// MarkIfNew claims id and reports whether this is the first claim within
// the retention window.
func (m *MarkerSet) MarkIfNew(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = time.Now()
	return true
}

// Evict removes markers older than maxAge and returns the count removed.
func (m *MarkerSet) Evict(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live markers.
func (m *MarkerSet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
