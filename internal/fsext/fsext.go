// Package fsext provides filesystem helpers: project file listing with
// ignore rules, and path prettification.
package fsext

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// ignoredDirs are directory names that never contain files worth checking:
// VCS metadata, virtual environments, and build or tool caches.
var ignoredDirs = map[string]struct{}{
	".git":            {},
	".hg":             {},
	".svn":            {},
	".venv":           {},
	"venv":            {},
	"node_modules":    {},
	"__pycache__":     {},
	".mypy_cache":     {},
	".ruff_cache":     {},
	".pytest_cache":   {},
	".tox":            {},
	"dist":            {},
	"build":           {},
	".eggs":           {},
	".crackerjack":    {},
	".idea":           {},
	".vscode":         {},
	"target":          {},
	".cache":          {},
	".terraform":      {},
	".gradle":         {},
	"vendor":          {},
	".next":           {},
	"coverage":        {},
	".coverage_cache": {},
}

// ShouldIgnore reports whether the directory name is never worth descending
// into.
func ShouldIgnore(name string) bool {
	_, ok := ignoredDirs[name]
	return ok
}

// ListFiles walks root and returns the relative paths of all regular files,
// skipping ignored directories. When patterns is non-empty, only files
// matching at least one doublestar pattern are returned. The result is
// sorted for deterministic ordering.
func ListFiles(root string, patterns []string) ([]string, error) {
	var (
		files []string
		mu    sync.Mutex
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path != root && ShouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if len(patterns) > 0 && !matchAny(patterns, rel) {
			return nil
		}
		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// HomeDir returns the user home directory.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// PrettyPath replaces the home directory prefix with `~`.
func PrettyPath(p string) string {
	home := HomeDir()
	if home == "" || !strings.HasPrefix(p, home) {
		return p
	}
	return filepath.Join("~", strings.TrimPrefix(p, home))
}

// CacheDir returns the project-scoped cache directory, creating it if
// needed.
func CacheDir(workingDir string) (string, error) {
	dir := filepath.Join(workingDir, ".crackerjack", "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
