package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/crackerjack-sub006/internal/cache"
)

func newHasher(t *testing.T) (*Hasher, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.Options{MaxEntries: 100})
	return New(c, 4), c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileHash(t *testing.T) {
	t.Parallel()

	h, _ := newHasher(t)
	path := writeFile(t, t.TempDir(), "a.py", "print('hi')\n")

	sum := sha256.Sum256([]byte("print('hi')\n"))
	require.Equal(t, hex.EncodeToString(sum[:]), h.FileHash(path))
}

func TestFileHashMissingFileSentinel(t *testing.T) {
	t.Parallel()

	h, _ := newHasher(t)
	require.Equal(t, "", h.FileHash("/does/not/exist.py"))
}

func TestFileHashMemoized(t *testing.T) {
	t.Parallel()

	h, c := newHasher(t)
	path := writeFile(t, t.TempDir(), "a.py", "x = 1\n")

	first := h.FileHash(path)
	second := h.FileHash(path)
	require.Equal(t, first, second)

	stats := c.Stats()["memory"]
	require.Equal(t, uint64(1), stats.Hits, "second read must come from cache")
	require.Equal(t, uint64(1), stats.Misses)
}

func TestFileHashChangedFileRehashes(t *testing.T) {
	t.Parallel()

	h, _ := newHasher(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "x = 1\n")
	before := h.FileHash(path)

	// Rewrite with different content and a different mtime.
	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
	past := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	after := h.FileHash(path)
	require.NotEqual(t, before, after)
}

func TestFileHashesParallelPreservesOrder(t *testing.T) {
	t.Parallel()

	h, _ := newHasher(t)
	dir := t.TempDir()
	paths := make([]string, 0, 20)
	for i := range 20 {
		paths = append(paths, writeFile(t, dir, filepath.Join(string(rune('a'+i))+".py"), string(rune('a'+i))))
	}

	sequential := h.FileHashes(paths)
	parallel := h.FileHashesParallel(context.Background(), paths)
	require.Equal(t, sequential, parallel)
}

func TestHasChanged(t *testing.T) {
	t.Parallel()

	h, _ := newHasher(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "a")
	b := writeFile(t, dir, "b.py", "b")

	previous := h.FileHashes([]string{a, b})
	require.False(t, h.HasChanged([]string{a, b}, previous))

	// Count mismatch.
	require.True(t, h.HasChanged([]string{a}, previous))

	// Content change.
	require.NoError(t, os.WriteFile(b, []byte("changed"), 0o644))
	past := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(b, past, past))
	require.True(t, h.HasChanged([]string{a, b}, previous))
}
