package cache

import (
	"strings"
	"sync"
	"time"
)

// entry is one memory-tier cache entry.
type entry struct {
	value       any
	createdAt   time.Time
	accessedAt  time.Time
	ttl         time.Duration
	accessCount uint64
}

// expired is a pure function of wall-clock time.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// memoryTier is the bounded in-memory cache tier. Reads refresh recency;
// inserting at capacity evicts the least-recently-accessed entry.
type memoryTier struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int

	hits      uint64
	misses    uint64
	evictions uint64
}

func newMemoryTier(maxEntries int) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &memoryTier{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}
}

func (m *memoryTier) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}
	now := time.Now()
	if e.expired(now) {
		delete(m.entries, key)
		m.misses++
		m.evictions++
		return nil, false
	}
	e.accessedAt = now
	e.accessCount++
	m.hits++
	return e.value, true
}

func (m *memoryTier) set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok {
		e.value = value
		e.createdAt = now
		e.accessedAt = now
		e.ttl = ttl
		return
	}
	if len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.entries[key] = &entry{
		value:      value,
		createdAt:  now,
		accessedAt: now,
		ttl:        ttl,
	}
}

// evictOldest removes the single least-recently-accessed entry. Ties break
// arbitrarily. Caller holds the lock.
func (m *memoryTier) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range m.entries {
		if !found || e.accessedAt.Before(oldest) {
			oldestKey, oldest, found = key, e.accessedAt, true
		}
	}
	if found {
		delete(m.entries, oldestKey)
		m.evictions++
	}
}

func (m *memoryTier) invalidatePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryTier) cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			m.evictions++
			removed++
		}
	}
	return removed
}

func (m *memoryTier) stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:         m.hits,
		Misses:       m.misses,
		Evictions:    m.evictions,
		TotalEntries: len(m.entries),
	}
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	m.hits, m.misses, m.evictions = 0, 0, 0
}
