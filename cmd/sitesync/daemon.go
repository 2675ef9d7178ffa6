package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/daemon"
	"github.com/mschirtzinger/sitesync/internal/logging"
	"github.com/mschirtzinger/sitesync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "run",
	Short:   "Watch registered folders and publish changes (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Starts one watcher per registered folder
  2. Records articles and ingests confirmed picture directories
  3. Publishes at most once per publish.interval when something changed
  4. Serves /metrics, /healthz and /status when metrics.listen is set

Only one daemon may run against a catalog at a time. Stop it with Ctrl+C.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		logger, closer, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()

		d, err := daemon.New(cfg, logger)
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "%s %v (lock %s)\n", ui.RenderWarn("⚠"), err, daemon.LockPath(cfg.Catalog.Path))
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
			os.Exit(1)
		}
		defer d.Close()

		fmt.Printf("%s Starting sitesync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Catalog: %s\n", cfg.Catalog.Path)
		fmt.Printf("   Store: %s\n", cfg.Store.Dir)
		if cfg.Publish.Enabled {
			fmt.Printf("   Publish every: %s\n", cfg.Publish.Interval)
		} else {
			fmt.Printf("   Publish: %s\n", ui.RenderMuted("disabled"))
		}
		if cfg.Metrics.Listen != "" {
			fmt.Printf("   Metrics: http://%s/metrics\n", cfg.Metrics.Listen)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
