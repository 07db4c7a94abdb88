package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shotimport/internal"
)

var (
	libraryFlag   string
	albumFlag     string
	keepFlag      bool
	noTagFlag     bool
	useExifTool   bool
	timeoutFlag   time.Duration
	noSummaryFlag bool
)

var importCmd = &cobra.Command{
	Use:   "import [folder]",
	Short: "Import the screenshots currently in the watch folder",
	Long: `Run one import pass: every file in the watch folder whose extension is
allowed is tagged, committed to the album and, once the library confirms the
commit, removed from the folder. The folder defaults to checkPath.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.WatchPath = args[0]
		}
		applyImportFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := openLogger(cfg, cmd.ErrOrStderr())
		defer logger.Close()

		_, err = runImport(ctx, cfg, cmd.OutOrStdout(), logger.Logger, !noSummaryFlag)
		return err
	},
}

// applyImportFlags lets flags override settings for this run only.
func applyImportFlags(cmd *cobra.Command, cfg *internal.Config) {
	flags := cmd.Flags()
	if flags.Changed("library") {
		cfg.LibraryPath = libraryFlag
	}
	if flags.Changed("album") {
		cfg.AlbumName = albumFlag
	}
	if flags.Changed("keep") {
		cfg.DeleteAfterImport = !keepFlag
	}
	if flags.Changed("no-tag") {
		cfg.AddMetadataTag = !noTagFlag
	}
	if flags.Changed("exiftool") {
		cfg.UseExifTool = useExifTool
	}
	if flags.Changed("timeout") && timeoutFlag > 0 {
		cfg.CommitTimeout = timeoutFlag
	}
}

func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&libraryFlag, "library", "", "Library directory (overrides libraryPath)")
	cmd.Flags().StringVar(&albumFlag, "album", "", "Album to import into (overrides albumName)")
	cmd.Flags().BoolVar(&keepFlag, "keep", false, "Keep source files after import")
	cmd.Flags().BoolVar(&noTagFlag, "no-tag", false, "Do not write the UserComment marker")
	cmd.Flags().BoolVar(&useExifTool, "exiftool", false, "Write metadata with the exiftool binary")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Wait at most this long for each commit")
}

// runImport performs one pass against the library at cfg.LibraryPath.
func runImport(ctx context.Context, cfg *internal.Config, out io.Writer, logger *zap.Logger, summary bool) (internal.RunSummary, error) {
	reporter := internal.NewConsoleReporter(out, cfg.Debug)
	rewriter, release := newRewriter(cfg, logger)
	defer release()

	library := internal.NewLibrary(cfg.LibraryPath, logger)
	defer library.Close()

	runner := internal.NewRunner(cfg, library, rewriter, reporter, logger)
	result, err := runner.RunOnce(ctx)
	if summary && result.Candidates > 0 {
		internal.DisplaySummary(out, result)
	}
	if runner.Stats.Total > 0 {
		fmt.Fprint(out, runner.Stats.GenerateReport())
	}
	return result, err
}

func init() {
	addImportFlags(importCmd)
	importCmd.Flags().BoolVar(&noSummaryFlag, "quiet", false, "Do not print the pass summary")
	rootCmd.AddCommand(importCmd)
}
