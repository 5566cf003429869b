package config

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/lesleslie/crackerjack-sub006/internal/csync"
)

const versionProbeTimeout = 10 * time.Second

var pythonPatterns = []string{"**/*.py", "**/*.pyi"}

// builtinHooks are the standard quality-check tools, in default execution
// order. Formatting hooks come first so the declared order already matches
// the formatting-first guarantee.
var builtinHooks = []HookDefinition{
	{
		Name:           "ruff-format",
		Command:        []string{"ruff", "format"},
		Stage:          StageFast,
		Timeout:        30,
		IsFormatting:   true,
		AcceptsFiles:   true,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"ruff", "--version"},
	},
	{
		Name:           "mdformat",
		Command:        []string{"mdformat"},
		Stage:          StageFast,
		Timeout:        30,
		IsFormatting:   true,
		AcceptsFiles:   true,
		FilePatterns:   []string{"**/*.md"},
		VersionCommand: []string{"mdformat", "--version"},
	},
	{
		Name:           "ruff-check",
		Command:        []string{"ruff", "check", "--fix"},
		Stage:          StageFast,
		Timeout:        60,
		AcceptsFiles:   true,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"ruff", "--version"},
	},
	{
		Name:           "codespell",
		Command:        []string{"codespell"},
		Stage:          StageFast,
		Timeout:        30,
		VersionCommand: []string{"codespell", "--version"},
	},
	{
		Name:           "vulture",
		Command:        []string{"vulture", "."},
		Stage:          StageComprehensive,
		Timeout:        60,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"vulture", "--version"},
	},
	{
		Name:           "refurb",
		Command:        []string{"refurb", "."},
		Stage:          StageComprehensive,
		Timeout:        120,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"refurb", "--version"},
	},
	{
		Name:           "complexipy",
		Command:        []string{"complexipy", "."},
		Stage:          StageComprehensive,
		Timeout:        60,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"complexipy", "--version"},
	},
	{
		Name:           "bandit",
		Command:        []string{"bandit", "-r", "-q", "."},
		Stage:          StageComprehensive,
		Timeout:        120,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"bandit", "--version"},
	},
	{
		Name:           "pyright",
		Command:        []string{"pyright"},
		Stage:          StageComprehensive,
		Timeout:        300,
		FilePatterns:   pythonPatterns,
		VersionCommand: []string{"pyright", "--version"},
	},
	{
		Name:           "gitleaks",
		Command:        []string{"gitleaks", "detect", "--no-banner"},
		Stage:          StageComprehensive,
		Timeout:        120,
		VersionCommand: []string{"gitleaks", "version"},
	},
}

// expensiveHooks maps hooks whose results are worth persisting to disk to
// their persistent-tier TTL. Secret detection changes slowly, so it keeps
// the longest TTL.
var expensiveHooks = map[string]time.Duration{
	"pyright":  24 * time.Hour,
	"bandit":   48 * time.Hour,
	"gitleaks": 7 * 24 * time.Hour,
}

// lockedHooks are tools that are unsafe or wasteful to run twice at once.
// Pyright spawns a node process that saturates CPU and fights over its own
// package cache.
var lockedHooks = map[string]bool{
	"pyright": true,
}

// builtinStrategies are the standard execution suites.
var builtinStrategies = map[string]StrategyConfig{
	"fast": {
		Hooks:       []string{"ruff-format", "mdformat", "ruff-check", "codespell"},
		Parallel:    true,
		MaxWorkers:  4,
		RetryPolicy: RetryFormattingOnly,
	},
	"comprehensive": {
		Hooks: []string{
			"ruff-format", "mdformat", "ruff-check", "codespell",
			"vulture", "refurb", "complexipy", "bandit", "pyright", "gitleaks",
		},
		Parallel:    true,
		MaxWorkers:  4,
		RetryPolicy: RetryAllFailed,
	},
}

// Registry holds the hook and strategy tables for one project. It is built
// once from the loaded [Config] and passed by reference wherever hook
// metadata is needed.
type Registry struct {
	cfg        *Config
	hooks      map[string]HookDefinition
	order      []string
	strategies map[string]StrategyConfig
	versions   *csync.Map[string, string]
}

// NewRegistry builds a registry from the built-in tables plus the config's
// additions and overrides.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{
		cfg:        cfg,
		hooks:      make(map[string]HookDefinition, len(builtinHooks)),
		strategies: make(map[string]StrategyConfig, len(builtinStrategies)),
		versions:   csync.NewMap[string, string](),
	}
	for _, h := range builtinHooks {
		r.hooks[h.Name] = h
		r.order = append(r.order, h.Name)
	}
	for name, h := range cfg.Hooks {
		h.Name = name
		if _, exists := r.hooks[name]; !exists {
			r.order = append(r.order, name)
		}
		r.hooks[name] = h
	}
	for name, s := range builtinStrategies {
		r.strategies[name] = s
	}
	for name, s := range cfg.Strategies {
		r.strategies[name] = s
	}
	return r
}

// Hook returns the definition for the given hook name.
func (r *Registry) Hook(name string) (HookDefinition, bool) {
	h, ok := r.hooks[name]
	return h, ok
}

// Hooks returns all hook definitions in registration order.
func (r *Registry) Hooks() []HookDefinition {
	out := make([]HookDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.hooks[name])
	}
	return out
}

// StrategyNames returns the available strategy names, sorted.
func (r *Registry) StrategyNames() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Strategy materializes the named strategy into an executable
// [HookStrategy].
func (r *Registry) Strategy(name string) (*HookStrategy, error) {
	def, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("config: unknown strategy %q (available: %s)",
			name, strings.Join(r.StrategyNames(), ", "))
	}
	hooks := make([]HookDefinition, 0, len(def.Hooks))
	for _, hookName := range def.Hooks {
		h, ok := r.hooks[hookName]
		if !ok {
			return nil, fmt.Errorf("config: strategy %q references unknown hook %q", name, hookName)
		}
		hooks = append(hooks, h)
	}
	maxWorkers := def.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = r.cfg.MaxConcurrentWorkers()
	}
	policy := def.RetryPolicy
	if policy == "" {
		policy = RetryNone
	}
	return &HookStrategy{
		Name:        name,
		Hooks:       hooks,
		Parallel:    def.Parallel,
		MaxWorkers:  maxWorkers,
		RetryPolicy: policy,
	}, nil
}

// ExpensiveTTL returns the persistent-tier TTL for the hook, if its results
// are worth keeping across process runs.
func (r *Registry) ExpensiveTTL(name string) (time.Duration, bool) {
	ttl, ok := expensiveHooks[name]
	return ttl, ok
}

// RequiresLock reports whether the hook needs process-wide mutual exclusion
// against other invocations of itself.
func (r *Registry) RequiresLock(name string) bool {
	return lockedHooks[name]
}

// LockedHooks returns the hook names requiring mutual exclusion, sorted.
func (r *Registry) LockedHooks() []string {
	names := make([]string, 0, len(lockedHooks))
	for name := range lockedHooks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ToolVersion probes the hook's underlying tool version, memoized per
// process. Returns "" when the hook has no version command or the probe
// fails; persisted cache entries then go unversioned.
func (r *Registry) ToolVersion(ctx context.Context, name string) string {
	if v, ok := r.versions.Get(name); ok {
		return v
	}
	h, ok := r.hooks[name]
	if !ok || len(h.VersionCommand) == 0 {
		return ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, h.VersionCommand[0], h.VersionCommand[1:]...)
	cmd.Dir = r.cfg.WorkingDir()
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("Tool version probe failed", "hook", name, "error", err)
		r.versions.Set(name, "")
		return ""
	}

	version := ""
	if sc := bufio.NewScanner(bytes.NewReader(out)); sc.Scan() {
		version = strings.TrimSpace(sc.Text())
	}
	r.versions.Set(name, version)
	return version
}
