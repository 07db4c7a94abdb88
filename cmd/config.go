package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shotimport/internal"
)

var forceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the settings file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a settings file with the default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFlag
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			p, err := internal.DefaultConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !forceFlag {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := internal.WriteSettings(internal.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		source := cfg.Source
		if source == "" {
			source = "built-in defaults"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "source:            %s\n", source)
		fmt.Fprintf(out, "checkPath:         %s\n", cfg.WatchPath)
		fmt.Fprintf(out, "allowedExtensions: %v\n", cfg.AllowedExtensions)
		fmt.Fprintf(out, "albumName:         %s\n", cfg.AlbumName)
		fmt.Fprintf(out, "addMetadataTag:    %v\n", cfg.AddMetadataTag)
		fmt.Fprintf(out, "deleteAfterImport: %v\n", cfg.DeleteAfterImport)
		fmt.Fprintf(out, "debug:             %v\n", cfg.Debug)
		fmt.Fprintf(out, "libraryPath:       %s\n", cfg.LibraryPath)
		fmt.Fprintf(out, "commitTimeout:     %s\n", cfg.CommitTimeout)
		fmt.Fprintf(out, "useExifTool:       %v\n", cfg.UseExifTool)
		fmt.Fprintf(out, "markerValue:       %s\n", cfg.MarkerValue)
		fmt.Fprintf(out, "createWatchDir:    %v\n", cfg.CreateWatchDir)
		fmt.Fprintf(out, "pollInterval:      %s\n", cfg.PollInterval)
		fmt.Fprintf(out, "logFile:           %s\n", cfg.LogPath())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shotimport %s\n", Version)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}
