// Package engine executes hook strategies: it runs each hook definition as
// a subprocess with formatting-first ordering, a bounded worker pool,
// per-hook exclusive locks, timeouts, and retry policies.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lesleslie/crackerjack-sub006/internal/config"
	"github.com/lesleslie/crackerjack-sub006/internal/hooklock"
	"github.com/lesleslie/crackerjack-sub006/internal/pubsub"
)

// Status is a hook's terminal execution state.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Result is the outcome of running one hook. Immutable once returned; a
// retry produces a fresh Result whose duration absorbs the earlier run's.
type Result struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         Status        `json:"status"`
	Duration       time.Duration `json:"duration"`
	FilesProcessed int           `json:"files_processed"`
	Issues         []string      `json:"issues"`
	Stage          config.Stage  `json:"stage"`
	Timestamp      time.Time     `json:"timestamp"`
}

// ExecutionResult aggregates one strategy execution.
type ExecutionResult struct {
	Results       []*Result     `json:"results"`
	TotalDuration time.Duration `json:"total_duration"`
	Success       bool          `json:"success"`
	// PerformanceGain estimates the speedup over naive sequential
	// execution, based on configured timeouts rather than measurements.
	PerformanceGain float64 `json:"performance_gain"`
}

// HookEvent is published on the engine's broker as hooks start and finish.
type HookEvent struct {
	Strategy string  `json:"strategy"`
	Hook     string  `json:"hook"`
	Result   *Result `json:"result,omitempty"`
}

// Options configures an [Engine].
type Options struct {
	// WorkingDir is where hook subprocesses run. Must exist.
	WorkingDir string
	// MaxConcurrent is the engine-wide concurrency ceiling.
	MaxConcurrent int
	// DefaultTimeout applies to hooks without their own timeout.
	DefaultTimeout time.Duration
	// Files is the matched file list passed to hooks that accept paths.
	Files []string
	// Locks supplies per-hook mutual exclusion. Nil means no hook locks.
	Locks *hooklock.Manager
	// Parsers maps hook names to output-parser overrides.
	Parsers map[string]OutputParser
	// Events, when set, receives hook lifecycle events. The engine creates
	// its own broker otherwise.
	Events *pubsub.Broker[HookEvent]
}

// Engine executes hook strategies. Safe for concurrent use; a single
// engine may execute several strategies at once, sharing the lock manager
// and the running-process set.
type Engine struct {
	workingDir     string
	maxConcurrent  int
	defaultTimeout time.Duration
	files          []string
	locks          *hooklock.Manager
	parsers        map[string]OutputParser
	fallback       OutputParser
	running        *processSet
	broker         *pubsub.Broker[HookEvent]
}

// New creates an engine. An invalid working directory is the one fatal
// construction error: no hook can meaningfully run without it.
func New(opts Options) (*Engine, error) {
	info, err := os.Stat(opts.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("engine: working directory %q: %w", opts.WorkingDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("engine: working directory %q is not a directory", opts.WorkingDir)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = config.DefaultMaxConcurrent
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = config.DefaultHookTimeout
	}
	locks := opts.Locks
	if locks == nil {
		locks = hooklock.NewManager(nil)
	}
	broker := opts.Events
	if broker == nil {
		broker = pubsub.NewBroker[HookEvent]()
	}
	return &Engine{
		workingDir:     opts.WorkingDir,
		maxConcurrent:  opts.MaxConcurrent,
		defaultTimeout: opts.DefaultTimeout,
		files:          opts.Files,
		locks:          locks,
		parsers:        opts.Parsers,
		fallback:       defaultParser{},
		running:        newProcessSet(),
		broker:         broker,
	}, nil
}

// Subscribe returns a channel of hook lifecycle events.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[HookEvent] {
	return e.broker.Subscribe(ctx)
}

// ExecuteStrategy runs the strategy to completion and returns a result per
// hook plus run-level statistics. Individual hook failures are data, not
// errors: the returned error is always nil today and reserved for future
// fatal conditions.
func (e *Engine) ExecuteStrategy(ctx context.Context, strategy *config.HookStrategy) (*ExecutionResult, error) {
	start := time.Now()

	results := e.runPass(ctx, strategy, strategy.Hooks)
	results = e.applyRetryPolicy(ctx, strategy, results)

	wall := time.Since(start)
	success := true
	for _, r := range results {
		if r.Status != StatusPassed {
			success = false
			break
		}
	}

	return &ExecutionResult{
		Results:         results,
		TotalDuration:   wall,
		Success:         success,
		PerformanceGain: performanceGain(strategy, wall),
	}, nil
}

// performanceGain compares wall-clock time against the sum of configured
// timeouts, a stable config-only estimate of naive sequential cost.
func performanceGain(strategy *config.HookStrategy, wall time.Duration) float64 {
	var estimated time.Duration
	for _, h := range strategy.Hooks {
		estimated += h.TimeoutDuration(0)
	}
	if estimated <= 0 || wall >= estimated {
		return 0
	}
	return float64(estimated-wall) / float64(estimated)
}

// runPass executes one full pass over hooks. Formatting hooks run first,
// sequentially, in declared order; they mutate files in place, so running
// them concurrently risks races on the same files. Analysis hooks follow,
// concurrently when the strategy allows it. Result order is formatting
// hooks then analysis hooks, each group in declared order, never
// completion order.
func (e *Engine) runPass(ctx context.Context, strategy *config.HookStrategy, hooks []config.HookDefinition) []*Result {
	var formatting, analysis []config.HookDefinition
	for _, h := range hooks {
		if h.IsFormatting {
			formatting = append(formatting, h)
		} else {
			analysis = append(analysis, h)
		}
	}

	results := make([]*Result, 0, len(hooks))
	for _, h := range formatting {
		results = append(results, e.runHook(ctx, strategy.Name, h))
	}

	if !strategy.Parallel || len(hooks) <= 1 {
		for _, h := range analysis {
			results = append(results, e.runHook(ctx, strategy.Name, h))
		}
		return results
	}

	workers := min(strategy.MaxWorkers, e.maxConcurrent)
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	slots := make([]*Result, len(analysis))
	var wg sync.WaitGroup

	// Acquiring in the submission loop keeps start order aligned with
	// declared order and guarantees the slot is held before spawn.
	for i, h := range analysis {
		if err := sem.Acquire(ctx, 1); err != nil {
			slots[i] = e.abortedResult(h, err)
			continue
		}
		wg.Add(1)
		go func(i int, h config.HookDefinition) {
			defer wg.Done()
			defer sem.Release(1)
			slots[i] = e.runHook(ctx, strategy.Name, h)
		}(i, h)
	}
	wg.Wait()

	return append(results, slots...)
}

// applyRetryPolicy runs at most one retry pass per strategy execution.
func (e *Engine) applyRetryPolicy(ctx context.Context, strategy *config.HookStrategy, results []*Result) []*Result {
	switch strategy.RetryPolicy {
	case config.RetryFormattingOnly:
		if !anyFormattingFailed(strategy, results) {
			return results
		}
		// A failed formatter may have modified files anyway, so every
		// downstream hook gets a fresh look.
		e.publishRetry(strategy.Name, strategy.Hooks)
		retried := e.runPass(ctx, strategy, strategy.Hooks)
		for i, r := range retried {
			r.Duration += results[i].Duration
		}
		return retried

	case config.RetryAllFailed:
		var failedHooks []config.HookDefinition
		failedIdx := make(map[string]int)
		for i, r := range results {
			if r.Status == StatusFailed {
				failedIdx[r.Name] = i
				if h, ok := findHook(strategy.Hooks, r.Name); ok {
					failedHooks = append(failedHooks, h)
				}
			}
		}
		if len(failedHooks) == 0 {
			return results
		}
		e.publishRetry(strategy.Name, failedHooks)
		sub := *strategy
		sub.Hooks = failedHooks
		for _, r := range e.runPass(ctx, &sub, failedHooks) {
			if i, ok := failedIdx[r.Name]; ok {
				r.Duration += results[i].Duration
				results[i] = r
			}
		}
		return results

	default:
		return results
	}
}

func anyFormattingFailed(strategy *config.HookStrategy, results []*Result) bool {
	formatting := make(map[string]bool)
	for _, h := range strategy.Hooks {
		if h.IsFormatting {
			formatting[h.Name] = true
		}
	}
	for _, r := range results {
		if formatting[r.Name] && r.Status == StatusFailed {
			return true
		}
	}
	return false
}

func findHook(hooks []config.HookDefinition, name string) (config.HookDefinition, bool) {
	for _, h := range hooks {
		if h.Name == name {
			return h, true
		}
	}
	return config.HookDefinition{}, false
}

func (e *Engine) publishRetry(strategyName string, hooks []config.HookDefinition) {
	for _, h := range hooks {
		e.broker.Publish(pubsub.RetriedEvent, HookEvent{Strategy: strategyName, Hook: h.Name})
	}
}

// runHook drives one hook through PENDING → RUNNING → terminal state. All
// failures are captured in the result, never returned.
func (e *Engine) runHook(ctx context.Context, strategyName string, hook config.HookDefinition) *Result {
	started := time.Now()
	res := &Result{
		ID:        uuid.NewString(),
		Name:      hook.Name,
		Stage:     hook.Stage,
		Issues:    []string{},
		Timestamp: started,
	}
	if hook.AcceptsFiles {
		res.FilesProcessed = len(e.files)
	}

	e.broker.Publish(pubsub.StartedEvent, HookEvent{Strategy: strategyName, Hook: hook.Name})
	defer func() {
		e.broker.Publish(pubsub.FinishedEvent, HookEvent{Strategy: strategyName, Hook: hook.Name, Result: res})
	}()

	if e.locks.RequiresLock(hook.Name) {
		release, err := e.locks.Acquire(ctx, hook.Name)
		if err != nil {
			res.Status = StatusError
			res.Issues = []string{fmt.Sprintf("lock acquisition aborted: %v", err)}
			res.Duration = time.Since(started)
			return res
		}
		defer release()
	}

	timeout := hook.TimeoutDuration(e.defaultTimeout)
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := hook.ResolveCommand(e.files)
	if len(argv) == 0 {
		res.Status = StatusError
		res.Issues = []string{"hook has an empty command"}
		res.Duration = time.Since(started)
		return res
	}

	slog.Debug("Running hook", "strategy", strategyName, "hook", hook.Name, "timeout", timeout)

	var output bytes.Buffer
	cmd := exec.CommandContext(hookCtx, argv[0], argv[1:]...)
	cmd.Dir = e.workingDir
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		res.Status = StatusError
		res.Issues = []string{err.Error()}
		res.Duration = time.Since(started)
		return res
	}

	e.running.add(res.ID, cmd)
	err := cmd.Wait()
	e.running.remove(res.ID)
	res.Duration = time.Since(started)

	var exitErr *exec.ExitError
	switch {
	case hookCtx.Err() == context.DeadlineExceeded:
		res.Status = StatusTimeout
		res.Issues = []string{fmt.Sprintf("%s timed out after %s", hook.Name, timeout)}
	case err == nil:
		res.Status = StatusPassed
	case ctx.Err() != nil:
		// The run itself was cancelled; the kill signal is not the tool
		// rejecting the code.
		res.Status = StatusError
		res.Issues = []string{fmt.Sprintf("%s aborted: %v", hook.Name, ctx.Err())}
	case errors.As(err, &exitErr):
		res.Status = StatusFailed
		res.Issues = e.parserFor(hook.Name).Parse(hook.Name, output.String())
	default:
		res.Status = StatusError
		res.Issues = []string{err.Error()}
	}

	slog.Debug("Hook finished", "hook", hook.Name, "status", res.Status, "duration", res.Duration)
	return res
}

func (e *Engine) abortedResult(hook config.HookDefinition, err error) *Result {
	return &Result{
		ID:        uuid.NewString(),
		Name:      hook.Name,
		Status:    StatusError,
		Issues:    []string{fmt.Sprintf("not started: %v", err)},
		Stage:     hook.Stage,
		Timestamp: time.Now(),
	}
}

func (e *Engine) parserFor(name string) OutputParser {
	if p, ok := e.parsers[name]; ok {
		return p
	}
	return e.fallback
}

// Cleanup kills every process still tracked in the running set and empties
// it. Used for forced shutdown; idempotent.
func (e *Engine) Cleanup() {
	if killed := e.running.killAll(); killed > 0 {
		slog.Warn("Killed running hook processes", "count", killed)
	}
}

// RunningCount returns the number of live tracked subprocesses.
func (e *Engine) RunningCount() int {
	return e.running.len()
}

// LockStats is a read-only passthrough to the lock manager.
func (e *Engine) LockStats() hooklock.Stats {
	return e.locks.Stats()
}

// ComprehensiveStatus reports engine configuration and live state for
// observability.
func (e *Engine) ComprehensiveStatus() map[string]any {
	return map[string]any{
		"working_dir":     e.workingDir,
		"max_concurrent":  e.maxConcurrent,
		"default_timeout": e.defaultTimeout.String(),
		"tracked_files":   len(e.files),
		"running":         e.running.len(),
		"locks":           e.locks.Stats(),
	}
}
