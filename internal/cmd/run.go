package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/lesleslie/crackerjack-sub006/internal/engine"
	"github.com/lesleslie/crackerjack-sub006/internal/pubsub"
	"github.com/lesleslie/crackerjack-sub006/internal/runner"
)

func init() {
	runCmd.Flags().Bool("no-cache", false, "Ignore cached results and re-run every hook")
}

var runCmd = &cobra.Command{
	Use:   "run [strategy]",
	Short: "Execute a hook strategy",
	Long: `Execute the named hook strategy (default "fast"). Formatting hooks run
first, then analysis hooks, concurrently when the strategy allows it.
Results for unchanged files are served from cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, reg, c, err := setup(cmd)
		if err != nil {
			return err
		}

		name := "fast"
		if len(args) > 0 {
			name = args[0]
		}
		strategy, err := reg.Strategy(name)
		if err != nil {
			return err
		}

		if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
			c.Clear()
		}

		r := runner.New(cfg, reg, c)
		ctx := cmd.Context()

		evc := r.Subscribe(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			streamEvents(ctx, evc)
		}()

		res, err := r.ExecuteStrategy(ctx, strategy)
		// Closing the broker lets the streaming goroutine drain the
		// buffered events and exit before we return.
		r.Close()
		<-done
		if err != nil {
			return err
		}

		printResults(cmd, res)
		if !res.Success {
			return fmt.Errorf("strategy %q failed", name)
		}
		return nil
	},
}

func streamEvents(ctx context.Context, evc <-chan pubsub.Event[engine.HookEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evc:
			if !ok {
				return
			}
			switch ev.Type {
			case pubsub.StartedEvent:
				slog.Debug("Hook started", "hook", ev.Payload.Hook)
			case pubsub.RetriedEvent:
				slog.Info("Retrying hook", "hook", ev.Payload.Hook)
			case pubsub.FinishedEvent:
				if r := ev.Payload.Result; r != nil {
					slog.Debug("Hook finished", "hook", r.Name, "status", r.Status, "duration", r.Duration)
				}
			}
		}
	}
}

func printResults(cmd *cobra.Command, res *runner.Result) {
	for _, r := range res.Results {
		if r == nil {
			continue
		}
		cmd.Printf("%-18s %-8s %8s", r.Name, r.Status, r.Duration.Round(time.Millisecond))
		if len(r.Issues) > 0 && r.Status != engine.StatusPassed {
			cmd.Printf("  (%d issues)", len(r.Issues))
		}
		cmd.Println()
		if r.Status != engine.StatusPassed {
			for _, issue := range r.Issues {
				cmd.Printf("    %s\n", issue)
			}
		}
	}
	cmd.Printf("\ntotal %s, cache %d hit / %d miss",
		res.TotalDuration.Round(time.Millisecond), res.CacheHits, res.CacheMisses)
	if res.PerformanceGain > 0 {
		cmd.Printf(", est. %.0f%% faster than sequential", res.PerformanceGain*100)
	}
	cmd.Println()
}
