package cmd

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lesleslie/crackerjack-sub006/internal/fsext"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, strategies, and cache state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, reg, c, err := setup(cmd)
		if err != nil {
			return err
		}

		cmd.Printf("project:         %s\n", fsext.PrettyPath(cfg.WorkingDir()))
		cmd.Printf("max concurrent:  %d\n", cfg.MaxConcurrentWorkers())
		cmd.Printf("default timeout: %s\n", cfg.DefaultTimeoutDuration())
		cmd.Printf("strategies:      %s\n", strings.Join(reg.StrategyNames(), ", "))
		cmd.Printf("locked hooks:    %s\n", strings.Join(reg.LockedHooks(), ", "))

		cmd.Println("\nhooks:")
		for _, h := range reg.Hooks() {
			kind := "analysis"
			if h.IsFormatting {
				kind = "formatting"
			}
			suffix := ""
			if ttl, ok := reg.ExpensiveTTL(h.Name); ok {
				suffix = " (persisted " + ttl.String() + ")"
			}
			cmd.Printf("  %-18s %-10s stage=%s%s\n", h.Name, kind, h.Stage, suffix)
		}

		cmd.Println("\ncache:")
		for tier, s := range c.Stats() {
			cmd.Printf("  %-10s %d entries, %d hits, %d misses, %d evictions\n",
				tier, s.TotalEntries, s.Hits, s.Misses, s.Evictions)
		}
		if size := c.PersistentSize(); size > 0 {
			cmd.Printf("  %-10s %s on disk\n", "", humanize.Bytes(uint64(size)))
		}
		return nil
	},
}
