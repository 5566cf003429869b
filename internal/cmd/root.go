// Package cmd provides the crackerjack command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lesleslie/crackerjack-sub006/internal/cache"
	"github.com/lesleslie/crackerjack-sub006/internal/config"
	"github.com/lesleslie/crackerjack-sub006/internal/fsext"
	"github.com/lesleslie/crackerjack-sub006/internal/log"
	"github.com/lesleslie/crackerjack-sub006/internal/version"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Project working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statusCmd)
}

var rootCmd = &cobra.Command{
	Use:   "crackerjack",
	Short: "Run quality-check hooks with caching and bounded concurrency",
	Long: `Crackerjack orchestrates external quality-check tools (formatters,
linters, type checkers, security scanners) as subprocesses, with bounded
concurrency, per-tool locking, retries, and a two-tier result cache that
lets unchanged inputs skip re-execution entirely.`,
	Example: `
# Run the fast suite
crackerjack run

# Run the comprehensive suite with debug logging
crackerjack run comprehensive -d

# Show cache statistics
crackerjack cache stats

# Drop every cached result
crackerjack cache clear
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional and loads silently.
		_ = godotenv.Load()

		debug, _ := cmd.Flags().GetBool("debug")
		return log.Setup(log.Options{Debug: debug})
	},
}

// Execute runs the CLI.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// setup resolves the working directory and builds the config, registry,
// and cache shared by all subcommands.
func setup(cmd *cobra.Command) (*config.Config, *config.Registry, *cache.Cache, error) {
	cwd, err := resolveCwd(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, nil, nil, err
	}
	reg := config.NewRegistry(cfg)

	dir := cfg.Cache.Dir
	if cfg.Cache.Persistent && dir == "" {
		dir, err = fsext.CacheDir(cwd)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve cache directory: %w", err)
		}
	}
	if !cfg.Cache.Persistent {
		dir = ""
	}

	c := cache.New(cache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		ResultTTL:     cfg.Cache.ResultTTLDuration(),
		PersistentDir: dir,
		ExpensiveTTL:  reg.ExpensiveTTL,
	})
	return cfg, reg, c, nil
}

func resolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}
