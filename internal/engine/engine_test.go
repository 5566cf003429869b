package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lesleslie/crackerjack-sub006/internal/config"
	"github.com/lesleslie/crackerjack-sub006/internal/hooklock"
	"github.com/lesleslie/crackerjack-sub006/internal/pubsub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shHook(name, script string, opts ...func(*config.HookDefinition)) config.HookDefinition {
	h := config.HookDefinition{
		Name:    name,
		Command: []string{"sh", "-c", script},
		Stage:   config.StageFast,
		Timeout: 30,
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func formatting(h *config.HookDefinition) { h.IsFormatting = true }

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.WorkingDir == "" {
		opts.WorkingDir = t.TempDir()
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(e.Cleanup)
	return e
}

func TestNewInvalidWorkingDir(t *testing.T) {
	t.Parallel()

	_, err := New(Options{WorkingDir: "/does/not/exist"})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(Options{WorkingDir: file})
	require.Error(t, err)
}

func TestExecuteStrategyStatuses(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	strategy := &config.HookStrategy{
		Name: "statuses",
		Hooks: []config.HookDefinition{
			shHook("passes", "exit 0"),
			shHook("fails", "echo 'lint.py:3: bad name'; exit 1"),
			{Name: "missing-binary", Command: []string{"definitely-not-a-real-tool-xyz"}, Timeout: 5},
		},
		RetryPolicy: config.RetryNone,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	require.False(t, res.Success)

	byName := map[string]*Result{}
	for _, r := range res.Results {
		byName[r.Name] = r
		require.NotNil(t, r.Issues, "issues must never be nil")
		require.NotEmpty(t, r.ID)
	}

	require.Equal(t, StatusPassed, byName["passes"].Status)
	require.Empty(t, byName["passes"].Issues)

	require.Equal(t, StatusFailed, byName["fails"].Status)
	require.Equal(t, []string{"lint.py:3: bad name"}, byName["fails"].Issues)

	require.Equal(t, StatusError, byName["missing-binary"].Status)
	require.NotEmpty(t, byName["missing-binary"].Issues)
}

func TestTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	strategy := &config.HookStrategy{
		Name:  "timeouts",
		Hooks: []config.HookDefinition{shHook("sleeper", "sleep 5", func(h *config.HookDefinition) { h.Timeout = 1 })},
	}

	start := time.Now()
	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	elapsed := time.Since(start)

	r := res.Results[0]
	require.Equal(t, StatusTimeout, r.Status)
	require.Contains(t, r.Issues[0], "timed out")
	require.Less(t, elapsed, 3*time.Second, "the subprocess must be killed at the deadline")
	require.InDelta(t, time.Second.Seconds(), r.Duration.Seconds(), 1.0)
	require.Zero(t, e.RunningCount(), "the process set must be empty right after the run")
}

func TestCancelledRunReportsError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	strategy := &config.HookStrategy{
		Name:  "cancelled",
		Hooks: []config.HookDefinition{shHook("sleeper", "sleep 5")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	res, err := e.ExecuteStrategy(ctx, strategy)
	require.NoError(t, err)

	// The interrupt killed the tool; that is an abort, not the tool
	// rejecting the code.
	r := res.Results[0]
	require.Equal(t, StatusError, r.Status)
	require.Contains(t, r.Issues[0], "aborted")
	require.Zero(t, e.RunningCount())
}

func TestFormattingHooksRunBeforeAnalysis(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	marker := filepath.Join(dir, "formatted")
	e := newEngine(t, Options{WorkingDir: dir, MaxConcurrent: 4})

	// Analysis hooks fail unless the formatter already ran.
	strategy := &config.HookStrategy{
		Name: "ordering",
		Hooks: []config.HookDefinition{
			shHook("check-a", fmt.Sprintf("test -f %s", marker)),
			shHook("fmt", fmt.Sprintf("touch %s", marker), formatting),
			shHook("check-b", fmt.Sprintf("test -f %s", marker)),
		},
		Parallel:   true,
		MaxWorkers: 2,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, res.Success)

	// Result order is formatting hooks first, then analysis hooks, each in
	// declared order. Never completion order.
	names := make([]string, 0, 3)
	for _, r := range res.Results {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"fmt", "check-a", "check-b"}, names)
}

func TestSequentialModeRunsInDeclaredOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logFile := filepath.Join(dir, "order.log")
	e := newEngine(t, Options{WorkingDir: dir})

	strategy := &config.HookStrategy{
		Name: "sequential",
		Hooks: []config.HookDefinition{
			shHook("one", fmt.Sprintf("echo one >> %s", logFile)),
			shHook("two", fmt.Sprintf("echo two >> %s", logFile)),
			shHook("three", fmt.Sprintf("echo three >> %s", logFile)),
		},
		Parallel: false,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, strings.Fields(string(data)))
}

func TestParallelBoundedByMaxWorkers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := newEngine(t, Options{WorkingDir: dir, MaxConcurrent: 8})

	// Each hook records a concurrency sample: fails if it ever sees more
	// than two live marker files (itself included).
	script := `me=$$.marker; touch $me; n=$(ls *.marker | wc -l); sleep 0.1; rm $me; [ "$n" -le 2 ]`
	hooks := make([]config.HookDefinition, 0, 6)
	for i := range 6 {
		hooks = append(hooks, shHook(fmt.Sprintf("tool-%d", i), script))
	}

	res, err := e.ExecuteStrategy(context.Background(), &config.HookStrategy{
		Name:       "bounded",
		Hooks:      hooks,
		Parallel:   true,
		MaxWorkers: 2,
	})
	require.NoError(t, err)
	require.True(t, res.Success, "no hook may observe more than maxWorkers live siblings")
}

func TestRetryFormattingOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := newEngine(t, Options{WorkingDir: dir, MaxConcurrent: 2})

	// fmtA fails on the first attempt only; every hook counts its runs.
	strategy := &config.HookStrategy{
		Name: "retry-fmt",
		Hooks: []config.HookDefinition{
			shHook("fmtA", "echo x >> fmtA.runs; test $(wc -l < fmtA.runs) -ge 2", formatting),
			shHook("toolB", "echo x >> toolB.runs"),
			shHook("toolC", "echo x >> toolC.runs"),
		},
		Parallel:    true,
		MaxWorkers:  2,
		RetryPolicy: config.RetryFormattingOnly,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, res.Success)

	// Every hook ran exactly twice, passing ones included.
	for _, name := range []string{"fmtA", "toolB", "toolC"} {
		data, err := os.ReadFile(filepath.Join(dir, name+".runs"))
		require.NoError(t, err)
		require.Len(t, strings.Fields(string(data)), 2, "%s should run twice", name)
	}
}

func TestRetryAllFailedOnlyRetriesFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := newEngine(t, Options{WorkingDir: dir})

	strategy := &config.HookStrategy{
		Name: "retry-failed",
		Hooks: []config.HookDefinition{
			shHook("toolA", "echo x >> toolA.runs"),
			shHook("toolB", "echo x >> toolB.runs; test $(wc -l < toolB.runs) -ge 2"),
		},
		RetryPolicy: config.RetryAllFailed,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, res.Success)

	dataA, err := os.ReadFile(filepath.Join(dir, "toolA.runs"))
	require.NoError(t, err)
	require.Len(t, strings.Fields(string(dataA)), 1, "passed hooks are left untouched")

	dataB, err := os.ReadFile(filepath.Join(dir, "toolB.runs"))
	require.NoError(t, err)
	require.Len(t, strings.Fields(string(dataB)), 2)
}

func TestRetryAllFailedKeepsPassedResultObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := newEngine(t, Options{WorkingDir: dir})

	strategy := &config.HookStrategy{
		Name: "retry-untouched",
		Hooks: []config.HookDefinition{
			shHook("passer", "true"),
			shHook("failer", "false"),
		},
		RetryPolicy: config.RetryAllFailed,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.False(t, res.Success)

	var passer, failer *Result
	for _, r := range res.Results {
		switch r.Name {
		case "passer":
			passer = r
		case "failer":
			failer = r
		}
	}
	require.Equal(t, StatusPassed, passer.Status)
	require.Equal(t, StatusFailed, failer.Status)
	// The failed hook's final result comes from the retry: its duration
	// covers both attempts.
	require.Greater(t, failer.Duration, time.Duration(0))
}

func TestExclusiveLockSerializesSameHookName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locks := hooklock.NewManager(func(name string) bool { return name == "exclusive-tool" })
	e := newEngine(t, Options{WorkingDir: dir, MaxConcurrent: 4, Locks: locks})

	// The script fails if another instance is already inside the critical
	// section. Two strategies with the same exclusive hook run at once.
	script := "test ! -f busy && touch busy && sleep 0.2 && rm busy"
	mk := func(n string) *config.HookStrategy {
		return &config.HookStrategy{
			Name:  n,
			Hooks: []config.HookDefinition{shHook("exclusive-tool", script)},
		}
	}

	type outcome struct {
		res *ExecutionResult
		err error
	}
	outc := make(chan outcome, 2)
	for _, s := range []*config.HookStrategy{mk("one"), mk("two")} {
		go func(s *config.HookStrategy) {
			res, err := e.ExecuteStrategy(context.Background(), s)
			outc <- outcome{res, err}
		}(s)
	}
	for range 2 {
		out := <-outc
		require.NoError(t, out.err)
		require.True(t, out.res.Success, "overlapping lifetimes would fail the busy check")
	}

	stats := e.LockStats()
	require.Zero(t, stats.Held)
	require.Equal(t, uint64(2), stats.Waits["exclusive-tool"])
}

func TestPerformanceGain(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{MaxConcurrent: 4})
	strategy := &config.HookStrategy{
		Name: "gain",
		Hooks: []config.HookDefinition{
			shHook("a", "true"),
			shHook("b", "true"),
		},
		Parallel:   true,
		MaxWorkers: 2,
	}

	res, err := e.ExecuteStrategy(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, res.Success)
	// Wall clock is far below the 60s of configured timeouts.
	require.Greater(t, res.PerformanceGain, 0.9)
	require.LessOrEqual(t, res.PerformanceGain, 1.0)
}

func TestCleanupIdempotent(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	e.Cleanup()
	e.Cleanup()
	require.Zero(t, e.RunningCount())
}

func TestEvents(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evc := e.Subscribe(ctx)

	_, err := e.ExecuteStrategy(context.Background(), &config.HookStrategy{
		Name:  "events",
		Hooks: []config.HookDefinition{shHook("noop", "true")},
	})
	require.NoError(t, err)

	var started, finished bool
	timeout := time.After(2 * time.Second)
	for !(started && finished) {
		select {
		case ev := <-evc:
			switch ev.Type {
			case pubsub.StartedEvent:
				started = true
			case pubsub.FinishedEvent:
				finished = true
				require.NotNil(t, ev.Payload.Result)
				require.Equal(t, StatusPassed, ev.Payload.Result.Status)
			}
		case <-timeout:
			t.Fatal("missing lifecycle events")
		}
	}
}

func TestComprehensiveStatus(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{MaxConcurrent: 3})
	status := e.ComprehensiveStatus()
	require.Equal(t, 3, status["max_concurrent"])
	require.Equal(t, 0, status["running"])
	require.Contains(t, status, "locks")
}
