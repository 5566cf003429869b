package hooklock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequiresLock(t *testing.T) {
	t.Parallel()

	m := NewManager(func(name string) bool { return name == "pyright" })
	require.True(t, m.RequiresLock("pyright"))
	require.False(t, m.RequiresLock("ruff-check"))

	// A nil policy means no hook locks.
	require.False(t, NewManager(nil).RequiresLock("pyright"))
}

func TestAcquireReleaseIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	release, err := m.Acquire(context.Background(), "tool")
	require.NoError(t, err)
	require.Equal(t, 1, m.Stats().Held)

	release()
	release() // second call is a no-op
	require.Equal(t, 0, m.Stats().Held)
}

func TestMutualExclusionPerName(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "tool")
			if err != nil {
				return
			}
			defer release()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen, "same-name holders must never overlap")
	stats := m.Stats()
	require.Equal(t, 0, stats.Held)
	require.Equal(t, uint64(8), stats.Waits["tool"])
}

func TestDifferentNamesDontBlock(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	releaseA, err := m.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := m.Acquire(context.Background(), "b")
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different lock names must not contend")
	}
}

func TestAcquireCancellation(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	release, err := m.Acquire(context.Background(), "tool")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "tool")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, m.Stats().Held)
}
