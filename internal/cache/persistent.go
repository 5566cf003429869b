package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// persistentEntry is the on-disk JSON envelope. Expiry lives in the entry
// metadata, not the filename.
type persistentEntry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

func (e *persistentEntry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// persistentTier is a flat key-value store on local disk, one JSON file per
// entry with content-addressed filenames. No cross-process locking:
// last-writer-wins is fine because entries are content-addressed. Every I/O
// failure degrades to a miss (reads) or a no-op (writes); cache problems
// must never fail a hook run.
type persistentTier struct {
	dir string

	mu        sync.Mutex
	hits      uint64
	misses    uint64
	evictions uint64
}

func newPersistentTier(dir string) (*persistentTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create persistent dir: %w", err)
	}
	return &persistentTier{dir: dir}, nil
}

func (p *persistentTier) path(key string) string {
	return filepath.Join(p.dir, fmt.Sprintf("%016x.json", xxh3.HashString(key)))
}

func (p *persistentTier) get(key string) (json.RawMessage, bool) {
	path := p.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Persistent cache read failed", "key", key, "error", err)
		}
		p.count(&p.misses)
		return nil, false
	}

	var e persistentEntry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Debug("Persistent cache entry corrupt, removing", "key", key, "error", err)
		_ = os.Remove(path)
		p.count(&p.misses)
		return nil, false
	}
	// Filename hash collision: the stored key wins, the lookup misses.
	if e.Key != key {
		p.count(&p.misses)
		return nil, false
	}
	if e.expired(time.Now()) {
		_ = os.Remove(path)
		p.mu.Lock()
		p.misses++
		p.evictions++
		p.mu.Unlock()
		return nil, false
	}
	p.count(&p.hits)
	return e.Value, true
}

func (p *persistentTier) set(key string, value json.RawMessage, ttl time.Duration) {
	e := persistentEntry{
		Key:        key,
		Value:      value,
		CreatedAt:  time.Now(),
		TTLSeconds: int64(ttl / time.Second),
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Debug("Persistent cache marshal failed", "key", key, "error", err)
		return
	}

	path := p.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Debug("Persistent cache write failed", "key", key, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Debug("Persistent cache rename failed", "key", key, "error", err)
		_ = os.Remove(tmp)
	}
}

// cleanup removes every expired entry and returns the removed count.
func (p *persistentTier) cleanup() int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		slog.Debug("Persistent cache sweep failed", "error", err)
		return 0
	}

	now := time.Now()
	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(p.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e persistentEntry
		if err := json.Unmarshal(data, &e); err != nil || e.expired(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		p.mu.Lock()
		p.evictions += uint64(removed)
		p.mu.Unlock()
	}
	return removed
}

func (p *persistentTier) stats() Stats {
	total := 0
	if entries, err := os.ReadDir(p.dir); err == nil {
		for _, de := range entries {
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
				total++
			}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Hits:         p.hits,
		Misses:       p.misses,
		Evictions:    p.evictions,
		TotalEntries: total,
	}
}

// size returns the total byte size of all persisted entries.
func (p *persistentTier) size() int64 {
	var total int64
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0
	}
	for _, de := range entries {
		if info, err := de.Info(); err == nil && !de.IsDir() {
			total += info.Size()
		}
	}
	return total
}

func (p *persistentTier) clear() {
	entries, err := os.ReadDir(p.dir)
	if err == nil {
		for _, de := range entries {
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
				_ = os.Remove(filepath.Join(p.dir, de.Name()))
			}
		}
	}
	p.mu.Lock()
	p.hits, p.misses, p.evictions = 0, 0, 0
	p.mu.Unlock()
}

func (p *persistentTier) count(counter *uint64) {
	p.mu.Lock()
	*counter++
	p.mu.Unlock()
}
