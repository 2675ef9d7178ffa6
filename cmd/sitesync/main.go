package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/config"
	"github.com/mschirtzinger/sitesync/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sitesync",
	Short: "Keep a static site's catalog in sync with local folders",
	Long: `sitesync watches registered folders of articles and pictures, records
them in a local catalog, stores pictures in a content-addressed store and
republishes the site when something changed.

Configuration is read from ~/.sitesync/config.toml (or --config) and can be
overridden with SITESYNC_* environment variables, e.g. SITESYNC_STORE_DIR.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureFor(os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.sitesync/config.toml)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "manage", Title: "Managing folders and the catalog:"},
	)
}

// mustLoadConfig loads configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
