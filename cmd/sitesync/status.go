package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/daemon"
	"github.com/mschirtzinger/sitesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "manage",
	Short:   "Show catalog and daemon status",
	Long: `Display the catalog location, row counts, whether a daemon is running
against it, and when the site snapshot was last written.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		running, err := daemon.Running(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking daemon: %v\n", err)
			os.Exit(1)
		}

		db := mustOpenCatalog(cfg)
		defer db.Close()

		counts, err := db.Counts(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📊"), ui.RenderHeader("sitesync status"))
		fmt.Printf("Catalog: %s\n", cfg.Catalog.Path)
		fmt.Printf("Store: %s\n", cfg.Store.Dir)
		if running {
			fmt.Printf("Daemon: %s\n", ui.RenderPass("running"))
		} else {
			fmt.Printf("Daemon: %s\n", ui.RenderWarn("not running"))
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Catalog contents"))
		fmt.Printf("Folders: %d\n", counts.Folders)
		fmt.Printf("Articles: %d\n", counts.Articles)
		fmt.Printf("Pictures: %d\n", counts.Pictures)
		if info, err := os.Stat(cfg.Publish.SnapshotPath); err == nil {
			fmt.Printf("Last publish: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last publish: %s\n", ui.RenderMuted("never"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
