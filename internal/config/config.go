// Package config defines hook definitions, strategies, and project
// configuration for the hook execution engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	// DefaultConfigFile is the project configuration file name.
	DefaultConfigFile = "crackerjack.json"
	// DefaultHookTimeout applies when a hook doesn't declare its own.
	DefaultHookTimeout = 60 * time.Second
	// DefaultMaxConcurrent bounds parallel hook execution engine-wide.
	DefaultMaxConcurrent = 4
)

// Stage identifies the execution phase a hook belongs to.
type Stage string

const (
	// StageFast hooks are quick formatters and linters.
	StageFast Stage = "fast"
	// StageComprehensive hooks are slower, deeper analyzers.
	StageComprehensive Stage = "comprehensive"
)

// RetryPolicy controls which hooks get a single retry pass after the initial
// execution.
type RetryPolicy string

const (
	// RetryNone disables retries.
	RetryNone RetryPolicy = "none"
	// RetryFormattingOnly reruns every hook once if any formatting hook
	// failed. Formatters mutate files, so downstream results may be stale.
	RetryFormattingOnly RetryPolicy = "formatting_only"
	// RetryAllFailed reruns only the hooks that failed, once.
	RetryAllFailed RetryPolicy = "all_failed"
)

// HookDefinition describes one external quality-check tool. Definitions are
// built once at configuration load and never mutated afterwards.
type HookDefinition struct {
	// Name is the unique hook identifier.
	Name string `json:"name" jsonschema:"required,description=Unique hook identifier"`
	// Command is the argument vector to execute. No shell interpretation.
	Command []string `json:"command" jsonschema:"required,description=Argument vector to execute"`
	// Stage is the execution phase this hook belongs to.
	Stage Stage `json:"stage,omitempty" jsonschema:"description=Execution phase,enum=fast,enum=comprehensive,default=fast"`
	// Timeout is the maximum run time in seconds. Zero means the engine
	// default.
	Timeout int `json:"timeout,omitempty" jsonschema:"description=Maximum run time in seconds,minimum=1"`
	// IsFormatting marks hooks that rewrite files in place. They always run
	// before analysis hooks.
	IsFormatting bool `json:"is_formatting,omitempty" jsonschema:"description=Whether the hook rewrites files in place"`
	// AcceptsFiles marks hooks whose command takes the matched file list as
	// trailing arguments.
	AcceptsFiles bool `json:"accepts_files,omitempty" jsonschema:"description=Whether matched files are appended to the command"`
	// FilePatterns narrows the files this hook cares about, as doublestar
	// globs relative to the project root. Empty means all files.
	FilePatterns []string `json:"file_patterns,omitempty" jsonschema:"description=Doublestar globs for relevant files"`
	// VersionCommand, when set, prints the underlying tool's version. Used
	// to version persisted cache entries.
	VersionCommand []string `json:"version_command,omitempty" jsonschema:"description=Command printing the tool version"`
}

// TimeoutDuration returns the hook's timeout, falling back to def.
func (h HookDefinition) TimeoutDuration(def time.Duration) time.Duration {
	if h.Timeout > 0 {
		return time.Duration(h.Timeout) * time.Second
	}
	if def > 0 {
		return def
	}
	return DefaultHookTimeout
}

// ResolveCommand returns the full argument vector for one run, appending the
// file list when the hook accepts file paths.
func (h HookDefinition) ResolveCommand(files []string) []string {
	argv := slices.Clone(h.Command)
	if h.AcceptsFiles {
		argv = append(argv, files...)
	}
	return argv
}

// HookStrategy is a named, ordered batch of hooks plus execution policy.
// Built per invocation and owned by the caller.
type HookStrategy struct {
	Name        string
	Hooks       []HookDefinition
	Parallel    bool
	MaxWorkers  int
	RetryPolicy RetryPolicy
}

// FormattingHooks returns the formatting hooks in declared order.
func (s *HookStrategy) FormattingHooks() []HookDefinition {
	var out []HookDefinition
	for _, h := range s.Hooks {
		if h.IsFormatting {
			out = append(out, h)
		}
	}
	return out
}

// AnalysisHooks returns the non-formatting hooks in declared order.
func (s *HookStrategy) AnalysisHooks() []HookDefinition {
	var out []HookDefinition
	for _, h := range s.Hooks {
		if !h.IsFormatting {
			out = append(out, h)
		}
	}
	return out
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// MaxEntries bounds the in-memory tier.
	MaxEntries int `json:"max_entries,omitempty" jsonschema:"description=Maximum in-memory cache entries,default=1000"`
	// ResultTTL is the in-memory hook-result TTL in seconds. This is a
	// same-session cache, so it stays short.
	ResultTTL int `json:"result_ttl,omitempty" jsonschema:"description=In-memory hook result TTL in seconds,default=1800"`
	// Persistent enables the disk tier for expensive hooks.
	Persistent bool `json:"persistent,omitempty" jsonschema:"description=Enable the on-disk cache tier,default=true"`
	// Dir overrides the cache directory. Empty means
	// <project>/.crackerjack/cache.
	Dir string `json:"dir,omitempty" jsonschema:"description=Cache directory override"`
}

// ResultTTLDuration returns the in-memory hook-result TTL.
func (c CacheConfig) ResultTTLDuration() time.Duration {
	if c.ResultTTL > 0 {
		return time.Duration(c.ResultTTL) * time.Second
	}
	return 30 * time.Minute
}

// StrategyConfig configures one named strategy.
type StrategyConfig struct {
	// Hooks lists hook names in execution order.
	Hooks []string `json:"hooks" jsonschema:"required,description=Hook names in execution order"`
	// Parallel enables concurrent execution of analysis hooks.
	Parallel bool `json:"parallel,omitempty" jsonschema:"description=Run analysis hooks concurrently"`
	// MaxWorkers bounds concurrency within this strategy.
	MaxWorkers int `json:"max_workers,omitempty" jsonschema:"description=Concurrency bound for this strategy,minimum=1"`
	// RetryPolicy is one of none, formatting_only, all_failed.
	RetryPolicy RetryPolicy `json:"retry_policy,omitempty" jsonschema:"description=Retry policy,enum=none,enum=formatting_only,enum=all_failed"`
}

// Config is the project configuration, loaded once at startup and injected
// into whatever needs it. Never accessed as ambient global state.
type Config struct {
	// MaxConcurrent is the engine-wide concurrency ceiling. Strategy worker
	// counts are clamped to it.
	MaxConcurrent int `json:"max_concurrent,omitempty" jsonschema:"description=Engine-wide concurrency ceiling,default=4"`
	// DefaultTimeout is the fallback hook timeout in seconds.
	DefaultTimeout int `json:"default_timeout,omitempty" jsonschema:"description=Fallback hook timeout in seconds,default=60"`
	// Cache configures the result cache.
	Cache CacheConfig `json:"cache,omitempty"`
	// Hooks adds or overrides hook definitions by name.
	Hooks map[string]HookDefinition `json:"hooks,omitempty"`
	// Strategies adds or overrides named strategies.
	Strategies map[string]StrategyConfig `json:"strategies,omitempty"`

	workingDir string
}

// WorkingDir returns the project root this config was loaded for.
func (c *Config) WorkingDir() string { return c.workingDir }

// MaxConcurrentWorkers returns the engine-wide concurrency ceiling.
func (c *Config) MaxConcurrentWorkers() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

// DefaultTimeoutDuration returns the fallback hook timeout.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	if c.DefaultTimeout > 0 {
		return time.Duration(c.DefaultTimeout) * time.Second
	}
	return DefaultHookTimeout
}

// Load reads the project configuration from workingDir, applying defaults
// for anything the file doesn't set. A missing config file is not an error.
func Load(workingDir string) (*Config, error) {
	info, err := os.Stat(workingDir)
	if err != nil {
		return nil, fmt.Errorf("config: working directory %q: %w", workingDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config: working directory %q is not a directory", workingDir)
	}

	cfg := &Config{
		Cache: CacheConfig{
			MaxEntries: 1000,
			ResultTTL:  1800,
			Persistent: true,
		},
		workingDir: workingDir,
	}

	data, err := os.ReadFile(filepath.Join(workingDir, DefaultConfigFile))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", DefaultConfigFile, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", DefaultConfigFile, err)
	}
	cfg.workingDir = workingDir
	return cfg, nil
}
