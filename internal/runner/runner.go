// Package runner wraps the execution engine with transparent result
// caching: unchanged inputs skip re-execution entirely.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lesleslie/crackerjack-sub006/internal/cache"
	"github.com/lesleslie/crackerjack-sub006/internal/config"
	"github.com/lesleslie/crackerjack-sub006/internal/engine"
	"github.com/lesleslie/crackerjack-sub006/internal/fsext"
	"github.com/lesleslie/crackerjack-sub006/internal/hash"
	"github.com/lesleslie/crackerjack-sub006/internal/hooklock"
	"github.com/lesleslie/crackerjack-sub006/internal/pubsub"
)

// Result is the engine's execution result augmented with cache counters.
type Result struct {
	*engine.ExecutionResult
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`
}

// Runner executes strategies through the cache. It shares one lock manager
// and one cache across executions.
type Runner struct {
	cfg    *config.Config
	reg    *config.Registry
	cache  *cache.Cache
	hasher *hash.Hasher
	locks  *hooklock.Manager
	events *pubsub.Broker[engine.HookEvent]
}

// New creates a runner for the given project.
func New(cfg *config.Config, reg *config.Registry, c *cache.Cache) *Runner {
	return &Runner{
		cfg:    cfg,
		reg:    reg,
		cache:  c,
		hasher: hash.New(c, cfg.MaxConcurrentWorkers()),
		locks:  hooklock.NewManager(reg.RequiresLock),
		events: pubsub.NewBroker[engine.HookEvent](),
	}
}

// Subscribe returns a channel of hook lifecycle events from all executions
// on this runner.
func (r *Runner) Subscribe(ctx context.Context) <-chan pubsub.Event[engine.HookEvent] {
	return r.events.Subscribe(ctx)
}

// Close shuts down the event broker. Subscribers drain any buffered events
// and then see their channel close. Idempotent.
func (r *Runner) Close() {
	r.events.Shutdown()
}

// ExecuteStrategy runs the strategy, serving hooks from cache when their
// input files are unchanged and delegating the rest to the engine. Only
// passing results are written back: a failing check is always re-attempted
// on the next run.
func (r *Runner) ExecuteStrategy(ctx context.Context, strategy *config.HookStrategy) (*Result, error) {
	start := time.Now()

	files, err := r.collectFiles(strategy)
	if err != nil {
		return nil, err
	}
	hashes := r.hashFiles(ctx, files)

	// One slot per hook, formatting hooks first to mirror engine ordering.
	ordered := append(strategy.FormattingHooks(), strategy.AnalysisHooks()...)
	slots := make([]*engine.Result, len(ordered))
	slotIdx := make(map[string]int, len(ordered))
	for i, h := range ordered {
		slotIdx[h.Name] = i
	}

	var (
		missed []config.HookDefinition
		hits   int
	)
	for i, h := range ordered {
		if cached, ok := r.lookup(ctx, h, hashes); ok {
			slots[i] = cached
			hits++
			continue
		}
		missed = append(missed, h)
	}
	misses := len(missed)

	if len(missed) > 0 {
		eng, err := engine.New(engine.Options{
			WorkingDir:     r.cfg.WorkingDir(),
			MaxConcurrent:  r.cfg.MaxConcurrentWorkers(),
			DefaultTimeout: r.cfg.DefaultTimeoutDuration(),
			Files:          files,
			Locks:          r.locks,
			Parsers:        engine.BuiltinParsers(),
			Events:         r.events,
		})
		if err != nil {
			return nil, err
		}
		defer eng.Cleanup()

		sub := *strategy
		sub.Hooks = missed
		execRes, err := eng.ExecuteStrategy(ctx, &sub)
		if err != nil {
			return nil, err
		}
		for _, res := range execRes.Results {
			if i, ok := slotIdx[res.Name]; ok {
				slots[i] = res
			}
			if res.Status == engine.StatusPassed {
				r.store(ctx, res, hashes)
			}
		}
	}

	wall := time.Since(start)
	success := true
	for _, res := range slots {
		if res == nil || res.Status != engine.StatusPassed {
			success = false
			break
		}
	}

	return &Result{
		ExecutionResult: &engine.ExecutionResult{
			Results:         slots,
			TotalDuration:   wall,
			Success:         success,
			PerformanceGain: gain(ordered, wall),
		},
		CacheHits:   hits,
		CacheMisses: misses,
	}, nil
}

func gain(hooks []config.HookDefinition, wall time.Duration) float64 {
	var estimated time.Duration
	for _, h := range hooks {
		estimated += h.TimeoutDuration(0)
	}
	if estimated <= 0 || wall >= estimated {
		return 0
	}
	return float64(estimated-wall) / float64(estimated)
}

// lookup checks the appropriate cache path for the hook.
func (r *Runner) lookup(ctx context.Context, h config.HookDefinition, hashes []string) (*engine.Result, bool) {
	if _, expensive := r.reg.ExpensiveTTL(h.Name); expensive {
		raw, ok := r.cache.GetExpensiveHookResult(h.Name, hashes, r.reg.ToolVersion(ctx, h.Name))
		if !ok {
			return nil, false
		}
		var res engine.Result
		if err := json.Unmarshal(raw, &res); err != nil {
			slog.Debug("Cached result corrupt", "hook", h.Name, "error", err)
			return nil, false
		}
		if res.Issues == nil {
			res.Issues = []string{}
		}
		return &res, true
	}

	v, ok := r.cache.GetHookResult(h.Name, hashes)
	if !ok {
		return nil, false
	}
	res, ok := v.(*engine.Result)
	return res, ok
}

// store writes a passing result back to the appropriate cache tier.
func (r *Runner) store(ctx context.Context, res *engine.Result, hashes []string) {
	if _, expensive := r.reg.ExpensiveTTL(res.Name); expensive {
		r.cache.SetExpensiveHookResult(res.Name, hashes, res, r.reg.ToolVersion(ctx, res.Name))
		return
	}
	r.cache.SetHookResult(res.Name, hashes, res)
}

// collectFiles determines the files relevant to the strategy. When every
// hook narrows itself to known file patterns, the walk matches only their
// union; otherwise the full project file set applies (minus well-known
// ignorable directories).
func (r *Runner) collectFiles(strategy *config.HookStrategy) ([]string, error) {
	var patterns []string
	narrowed := len(strategy.Hooks) > 0
	for _, h := range strategy.Hooks {
		if len(h.FilePatterns) == 0 {
			narrowed = false
			break
		}
		patterns = append(patterns, h.FilePatterns...)
	}
	if !narrowed {
		patterns = nil
	}
	return fsext.ListFiles(r.cfg.WorkingDir(), patterns)
}

// hashFiles computes the combined hash list once per strategy execution.
func (r *Runner) hashFiles(ctx context.Context, files []string) []string {
	abs := make([]string, len(files))
	for i, f := range files {
		abs[i] = filepath.Join(r.cfg.WorkingDir(), f)
	}
	return r.hasher.FileHashesParallel(ctx, abs)
}

// InvalidateHookCache removes cached results for the named hook, or all
// hook results when name is empty.
func (r *Runner) InvalidateHookCache(name string) int {
	return r.cache.InvalidateHookCache(name)
}

// CacheStats returns per-tier cache statistics.
func (r *Runner) CacheStats() map[string]cache.Stats {
	return r.cache.Stats()
}

// CleanupCache sweeps expired entries from every tier.
func (r *Runner) CleanupCache() map[string]int {
	return r.cache.CleanupAll()
}

// LockStats exposes the shared lock manager's counters.
func (r *Runner) LockStats() hooklock.Stats {
	return r.locks.Stats()
}
