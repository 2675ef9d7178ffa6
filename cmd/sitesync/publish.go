package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/daemon"
	"github.com/mschirtzinger/sitesync/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:     "publish",
	GroupID: "run",
	Short:   "Publish the site once",
	Long: `Write the catalog snapshot (publish.snapshot_path) and run the
configured publish.command, regardless of whether anything changed.

Command arguments may reference the snapshot path as ${SITESYNC_SNAPSHOT}, e.g.
  command = ["make", "-C", "site", "deploy", "SNAPSHOT=${SITESYNC_SNAPSHOT}"]`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		db := mustOpenCatalog(cfg)
		defer db.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Publishing...\n", ui.RenderAccent("🔄"))
		start := time.Now()
		if err := daemon.NewPublisher(cfg, db).Publish(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s Publish failed: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s Published in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Snapshot: %s\n", cfg.Publish.SnapshotPath)
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
