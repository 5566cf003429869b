// Package hooklock hands out per-hook-name exclusive locks for tools that
// are unsafe or wasteful to run concurrently with themselves.
package hooklock

import (
	"context"
	"sync"

	"github.com/lesleslie/crackerjack-sub006/internal/csync"
)

// Stats is a read-only snapshot of lock activity, for observability only.
type Stats struct {
	// Held is the number of locks currently held.
	Held int `json:"held"`
	// Waits counts acquisitions per hook, including uncontended ones.
	Waits map[string]uint64 `json:"waits"`
}

// Manager maps hook names to a mutual-exclusion requirement and hands out
// scoped locks. Locks are keyed by hook name only, so no lock ordering
// exists and no deadlock is possible.
type Manager struct {
	requires func(hookName string) bool
	locks    *csync.Map[string, chan struct{}]

	mu    sync.Mutex
	held  int
	waits map[string]uint64
}

// NewManager creates a manager with the given exclusion policy. A nil
// policy means no hook requires locking.
func NewManager(requires func(hookName string) bool) *Manager {
	if requires == nil {
		requires = func(string) bool { return false }
	}
	return &Manager{
		requires: requires,
		locks:    csync.NewMap[string, chan struct{}](),
		waits:    make(map[string]uint64),
	}
}

// RequiresLock reports whether the hook must run with exclusive access.
func (m *Manager) RequiresLock(hookName string) bool {
	return m.requires(hookName)
}

// Acquire blocks until no other holder of the same hook-name lock is
// active, then returns a release func. Release is idempotent. Acquisition
// never fails, it only delays; the one exception is context cancellation.
func (m *Manager) Acquire(ctx context.Context, hookName string) (func(), error) {
	lock, _ := m.locks.GetOrSet(hookName, make(chan struct{}, 1))

	m.mu.Lock()
	m.waits[hookName]++
	m.mu.Unlock()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.held++
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-lock
			m.mu.Lock()
			m.held--
			m.mu.Unlock()
		})
	}
	return release, nil
}

// Stats returns a snapshot of current lock activity.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	waits := make(map[string]uint64, len(m.waits))
	for k, v := range m.waits {
		waits[k] = v
	}
	return Stats{Held: m.held, Waits: waits}
}
