package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shotimport/internal"
)

var pollFlag time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [folder]",
	Short: "Keep importing screenshots as they appear",
	Long: `Run an import pass now, then again whenever a new screenshot lands in the
watch folder and every pollInterval. Passes never overlap, and a pass is
skipped while another shotimport process holds the library lock.`,
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
		if cmd.Flags().Changed("poll") && pollFlag > 0 {
			cfg.PollInterval = pollFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := openLogger(cfg, cmd.ErrOrStderr())
		defer logger.Close()

		rewriter, release := newRewriter(cfg, logger.Logger)
		defer release()
		library := internal.NewLibrary(cfg.LibraryPath, logger.Logger)
		defer library.Close()

		reporter := internal.NewConsoleReporter(cmd.OutOrStdout(), cfg.Debug)
		runner := internal.NewRunner(cfg, library, rewriter, reporter, logger.Logger)
		logger.Info("watching",
			zap.String("dir", cfg.WatchPath),
			zap.String("album", cfg.AlbumName),
			zap.Duration("poll", cfg.PollInterval))
		return runner.Watch(ctx)
	},
}

func init() {
	addWatchFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func addWatchFlags(cmd *cobra.Command) {
	addImportFlags(cmd)
	cmd.Flags().DurationVar(&pollFlag, "poll", 0, "Rescan interval, e.g. 30s (overrides pollInterval)")
}
