// Package cache implements the two-tier result cache for hook results and
// file content hashes: a bounded in-memory tier with TTL expiry and LRU
// eviction, plus an optional disk tier for expensive hooks whose results
// are worth surviving process restarts.
package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	hookResultPrefix = "hook_result:"
	fileHashPrefix   = "file_hash:"

	defaultResultTTL   = 30 * time.Minute
	defaultFileHashTTL = time.Hour
)

// Stats is a point-in-time snapshot of one tier's counters. Counters are
// monotonic and reset only by an explicit clear.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	TotalEntries int    `json:"total_entries"`
}

// Options configures a [Cache].
type Options struct {
	// MaxEntries bounds the memory tier.
	MaxEntries int
	// ResultTTL is the memory-tier TTL for hook results. It stays short:
	// the memory tier is a same-session cache.
	ResultTTL time.Duration
	// FileHashTTL is the memory-tier TTL for file-hash entries.
	FileHashTTL time.Duration
	// PersistentDir enables the disk tier when non-empty.
	PersistentDir string
	// ExpensiveTTL reports whether a hook is on the expensive allow-list
	// and, if so, its persistent-tier TTL.
	ExpensiveTTL func(hookName string) (time.Duration, bool)
}

// Cache is the two-tier store. Safe for concurrent use.
type Cache struct {
	mem  *memoryTier
	disk *persistentTier
	opts Options
}

// New creates a cache. A persistent-dir creation failure disables the disk
// tier rather than failing: cache problems never fail a hook run.
func New(opts Options) *Cache {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = defaultResultTTL
	}
	if opts.FileHashTTL <= 0 {
		opts.FileHashTTL = defaultFileHashTTL
	}
	c := &Cache{
		mem:  newMemoryTier(opts.MaxEntries),
		opts: opts,
	}
	if opts.PersistentDir != "" {
		disk, err := newPersistentTier(opts.PersistentDir)
		if err != nil {
			slog.Warn("Persistent cache disabled", "dir", opts.PersistentDir, "error", err)
		} else {
			c.disk = disk
		}
	}
	return c
}

// HookResultKey builds the cache key for a hook result. The hash list is
// sorted before hashing, so the key is invariant under permutation of the
// caller's file hashes.
func HookResultKey(hookName string, fileHashes []string) string {
	sorted := slices.Clone(fileHashes)
	slices.Sort(sorted)
	sum := md5.Sum([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("%s%s:%x", hookResultPrefix, hookName, sum)
}

func fileHashKey(path string, mtime time.Time, size int64) string {
	return fmt.Sprintf("%s%s:%d:%d", fileHashPrefix, path, mtime.UnixNano(), size)
}

func versionedKey(key, toolVersion string) string {
	if toolVersion == "" {
		return key
	}
	return key + ":" + toolVersion
}

// GetHookResult looks up a hook result in the memory tier.
func (c *Cache) GetHookResult(hookName string, fileHashes []string) (any, bool) {
	return c.mem.get(HookResultKey(hookName, fileHashes))
}

// SetHookResult stores a hook result in the memory tier.
func (c *Cache) SetHookResult(hookName string, fileHashes []string, result any) {
	c.mem.set(HookResultKey(hookName, fileHashes), result, c.opts.ResultTTL)
}

// GetExpensiveHookResult looks up a hook result in the memory tier first,
// then, for allow-listed hooks, in the disk tier under the versioned key.
// A tool upgrade changes the key and so invalidates stale persisted results
// without an explicit purge.
func (c *Cache) GetExpensiveHookResult(hookName string, fileHashes []string, toolVersion string) (json.RawMessage, bool) {
	key := versionedKey(HookResultKey(hookName, fileHashes), toolVersion)
	if v, ok := c.mem.get(key); ok {
		if raw, ok := v.(json.RawMessage); ok {
			return raw, true
		}
	}
	if c.disk == nil || !c.isExpensive(hookName) {
		return nil, false
	}
	raw, ok := c.disk.get(key)
	if !ok {
		return nil, false
	}
	// Promote to the memory tier for the rest of the session.
	c.mem.set(key, raw, c.opts.ResultTTL)
	return raw, true
}

// SetExpensiveHookResult stores a hook result in the memory tier and, for
// allow-listed hooks, in the disk tier with the hook's persistent TTL.
func (c *Cache) SetExpensiveHookResult(hookName string, fileHashes []string, result any, toolVersion string) {
	raw, err := json.Marshal(result)
	if err != nil {
		slog.Debug("Hook result marshal failed", "hook", hookName, "error", err)
		return
	}
	key := versionedKey(HookResultKey(hookName, fileHashes), toolVersion)
	c.mem.set(key, json.RawMessage(raw), c.opts.ResultTTL)

	if c.disk == nil || c.opts.ExpensiveTTL == nil {
		return
	}
	if ttl, ok := c.opts.ExpensiveTTL(hookName); ok {
		c.disk.set(key, raw, ttl)
	}
}

// GetFileHash looks up the content hash for a file identified by path,
// mtime, and size. A changed file misses structurally: its key differs.
func (c *Cache) GetFileHash(path string, mtime time.Time, size int64) (string, bool) {
	v, ok := c.mem.get(fileHashKey(path, mtime, size))
	if !ok {
		return "", false
	}
	hash, ok := v.(string)
	return hash, ok
}

// SetFileHash stores the content hash for a file.
func (c *Cache) SetFileHash(path string, mtime time.Time, size int64, hash string) {
	c.mem.set(fileHashKey(path, mtime, size), hash, c.opts.FileHashTTL)
}

// InvalidateHookCache removes all memory-tier results for the named hook,
// or every hook result when hookName is empty. Returns the removed count.
func (c *Cache) InvalidateHookCache(hookName string) int {
	prefix := hookResultPrefix
	if hookName != "" {
		prefix = hookResultPrefix + hookName + ":"
	}
	return c.mem.invalidatePrefix(prefix)
}

// CleanupAll sweeps every tier for expired entries and returns per-tier
// removed counts.
func (c *Cache) CleanupAll() map[string]int {
	counts := map[string]int{"memory": c.mem.cleanup()}
	if c.disk != nil {
		counts["persistent"] = c.disk.cleanup()
	}
	return counts
}

// Stats returns per-tier counter snapshots.
func (c *Cache) Stats() map[string]Stats {
	stats := map[string]Stats{"memory": c.mem.stats()}
	if c.disk != nil {
		stats["persistent"] = c.disk.stats()
	}
	return stats
}

// PersistentSize returns the disk tier's total size in bytes, zero when
// disabled.
func (c *Cache) PersistentSize() int64 {
	if c.disk == nil {
		return 0
	}
	return c.disk.size()
}

// Clear empties both tiers and resets all counters.
func (c *Cache) Clear() {
	c.mem.clear()
	if c.disk != nil {
		c.disk.clear()
	}
}

func (c *Cache) isExpensive(hookName string) bool {
	if c.opts.ExpensiveTTL == nil {
		return false
	}
	_, ok := c.opts.ExpensiveTTL(hookName)
	return ok
}
