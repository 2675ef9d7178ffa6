package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/config"
	"github.com/mschirtzinger/sitesync/internal/daemon"
	"github.com/mschirtzinger/sitesync/internal/registry"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
	"github.com/mschirtzinger/sitesync/internal/ui"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	GroupID: "manage",
	Short:   "Register and list watched folders",
	Long: `Manage the folders sitesync watches.

Article folders hold markdown files directly (not recursively). Picture
folders are watched recursively; a directory is only ingested once its
manifest (pictures.manifest_name) carries the confirmation marker.

A running daemon picks up newly registered folders on its next start.`,
}

var folderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a folder",
	Long: `Register a folder of articles or pictures.

Examples:
  sitesync folder add ~/notes/blog --kind article --destination blog --confirm
  sitesync folder add ~/Pictures/site --kind picture`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		destination, _ := cmd.Flags().GetString("destination")
		confirm, _ := cmd.Flags().GetBool("confirm")

		kind, err := catalog.ParseKind(kindFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		db := mustOpenCatalog(mustLoadConfig())
		defer db.Close()

		f, err := registry.New(db).Register(context.Background(), catalog.FolderRegistration{
			Path:                registry.ExpandHome(args[0]),
			Kind:                kind,
			DestinationLabel:    destination,
			RequireConfirmation: confirm,
		})
		if errors.Is(err, syncerr.ErrDuplicateFolder) {
			fmt.Printf("%s Already registered: %s\n", ui.RenderWarn("⚠"), args[0])
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error registering folder: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Registered %s folder %s\n", ui.RenderPass("✓"), f.Kind, f.Path)
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered folders",
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		var kind catalog.Kind
		if kindFlag != "" {
			k, err := catalog.ParseKind(kindFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			kind = k
		}

		db := mustOpenCatalog(mustLoadConfig())
		defer db.Close()

		folders, err := registry.New(db).ListFolders(context.Background(), kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing folders: %v\n", err)
			os.Exit(1)
		}
		if len(folders) == 0 {
			fmt.Println("No folders registered. Use 'sitesync folder add' to add one.")
			return
		}
		for _, f := range folders {
			line := fmt.Sprintf("%-8s %s", f.Kind, f.Path)
			if f.DestinationLabel != "" {
				line += " " + ui.RenderMuted("-> "+f.DestinationLabel)
			}
			if f.RequireConfirmation {
				line += " " + ui.RenderMuted("(confirmation required)")
			}
			fmt.Println(line)
		}
	},
}

var folderImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Register folders from a TOML file",
	Long: `Register every [[folder]] entry of a TOML file. Entries that are
already registered are reported and skipped.

Example file:
  [[folder]]
  path = "~/notes/blog"
  kind = "article"
  destination = "blog"
  require_confirmation = true

  [[folder]]
  path = "~/Pictures/site"
  kind = "picture"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpenCatalog(mustLoadConfig())
		defer db.Close()

		res, err := registry.New(db).ImportFile(context.Background(), args[0])
		if res != nil {
			for _, f := range res.Registered {
				fmt.Printf("%s Registered %s folder %s\n", ui.RenderPass("✓"), f.Kind, f.Path)
			}
			for _, p := range res.Duplicates {
				fmt.Printf("%s Already registered: %s\n", ui.RenderWarn("⚠"), p)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing folders: %v\n", err)
			os.Exit(1)
		}
	},
}

func mustOpenCatalog(cfg *config.Config) *catalog.DB {
	db, err := daemon.OpenCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening catalog: %v\n", err)
		os.Exit(1)
	}
	return db
}

func init() {
	folderAddCmd.Flags().StringP("kind", "k", "", "folder kind: article or picture")
	folderAddCmd.Flags().StringP("destination", "d", "", "deploy destination label")
	folderAddCmd.Flags().Bool("confirm", false, "only sync articles carrying the confirmation marker")
	_ = folderAddCmd.MarkFlagRequired("kind")

	folderListCmd.Flags().StringP("kind", "k", "", "only list folders of this kind")

	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderImportCmd)
	rootCmd.AddCommand(folderCmd)
}
