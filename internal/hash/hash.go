// Package hash computes stable content hashes for project files, memoized
// through the result cache so unchanged files are never re-read.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lesleslie/crackerjack-sub006/internal/cache"
)

const chunkSize = 64 * 1024

// Hasher hashes file contents with (path, mtime, size) memoization.
type Hasher struct {
	cache   *cache.Cache
	workers int
}

// New creates a hasher backed by the given cache. workers bounds the
// concurrent variant; zero means GOMAXPROCS.
func New(c *cache.Cache, workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{cache: c, workers: workers}
}

// FileHash returns the SHA-256 hex digest of the file's contents. A missing
// or unreadable file hashes to the empty string rather than erroring; the
// sentinel still participates in key generation.
func (h *Hasher) FileHash(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	if cached, ok := h.cache.GetFileHash(path, info.ModTime(), info.Size()); ok {
		return cached
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Debug("File hash open failed", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(digest, f, buf); err != nil {
		slog.Debug("File hash read failed", "path", path, "error", err)
		return ""
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	h.cache.SetFileHash(path, info.ModTime(), info.Size(), sum)
	return sum
}

// FileHashes returns the hash of each path, in order.
func (h *Hasher) FileHashes(paths []string) []string {
	hashes := make([]string, len(paths))
	for i, path := range paths {
		hashes[i] = h.FileHash(path)
	}
	return hashes
}

// FileHashesParallel hashes the paths with bounded concurrency, preserving
// order. Purely a throughput optimization for large file sets.
func (h *Hasher) FileHashesParallel(ctx context.Context, paths []string) []string {
	hashes := make([]string, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, path := range paths {
		g.Go(func() error {
			hashes[i] = h.FileHash(path)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return hashes
}

// HasChanged reports whether any path's recomputed hash differs from the
// previous list, or the counts differ.
func (h *Hasher) HasChanged(paths []string, previous []string) bool {
	if len(paths) != len(previous) {
		return true
	}
	for i, path := range paths {
		if h.FileHash(path) != previous[i] {
			return true
		}
	}
	return false
}
