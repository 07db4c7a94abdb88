package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"shotimport/internal"
)

var formatFlag string

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect the photo library",
}

var libraryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show albums, asset counts and sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatFlag != "table" && formatFlag != "json" {
			return fmt.Errorf("unsupported format %q (use table or json)", formatFlag)
		}
		cfg, err := loadSettings(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("library") {
			cfg.LibraryPath = libraryFlag
		}

		library := internal.NewLibrary(cfg.LibraryPath, nil)
		defer library.Close()
		if status := library.RequestAuthorization(cmd.Context()); status != internal.AuthAuthorized {
			return fmt.Errorf("%w: library %s is %s", internal.ErrPermissionDenied, cfg.LibraryPath, status)
		}

		stats, err := library.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return internal.DisplayStats(cmd.OutOrStdout(), stats, formatFlag)
	},
}

func init() {
	libraryStatsCmd.Flags().StringVar(&formatFlag, "format", "table", "Output format: table, json")
	libraryStatsCmd.Flags().StringVar(&libraryFlag, "library", "", "Library directory (overrides libraryPath)")

	libraryCmd.AddCommand(libraryStatsCmd)
	rootCmd.AddCommand(libraryCmd)
}
