package cmd

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)

	cacheClearCmd.Flags().String("hook", "", "Only invalidate results for this hook")
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-tier cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, c, err := setup(cmd)
		if err != nil {
			return err
		}
		for tier, s := range c.Stats() {
			cmd.Printf("%-10s %d entries, %d hits, %d misses, %d evictions\n",
				tier, s.TotalEntries, s.Hits, s.Misses, s.Evictions)
		}
		if size := c.PersistentSize(); size > 0 {
			cmd.Printf("%-10s %s on disk\n", "", humanize.Bytes(uint64(size)))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, c, err := setup(cmd)
		if err != nil {
			return err
		}
		if hook, _ := cmd.Flags().GetString("hook"); hook != "" {
			removed := c.InvalidateHookCache(hook)
			cmd.Printf("invalidated %d entries for %s\n", removed, hook)
			return nil
		}
		c.Clear()
		cmd.Println("cache cleared")
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep expired entries from every tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, c, err := setup(cmd)
		if err != nil {
			return err
		}
		for tier, removed := range c.CleanupAll() {
			cmd.Printf("%-10s removed %d expired entries\n", tier, removed)
		}
		return nil
	},
}
