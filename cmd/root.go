package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shotimport/internal"
)

// Version is overridden from the embedded VERSION file.
var Version = "dev"

var (
	configFlag string
	yesFlag    bool
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:           "shotimport",
	Short:         "Import screenshots from a watch folder into a photo library",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ApplyVersion pushes Version into the cobra command.
func ApplyVersion() {
	rootCmd.Version = Version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Settings file (default: <user config dir>/shotimport/Settings.json)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Answer yes to confirmation prompts")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Trace every file decision")
	ApplyVersion()
}

// Exit codes of the shotimport binary.
const (
	ExitOK                    = 0
	ExitFailure               = 1
	ExitDirectoryUnreadable   = 2
	ExitCollectionUnavailable = 3
	ExitWatchDirUnavailable   = 4
	ExitPermissionDenied      = 5
)

// ExitCode maps the error returned by Execute to a process exit status.
// Per-file failures never reach here; a pass that only had those exits 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, internal.ErrWatchDirUnavailable) {
		return ExitWatchDirUnavailable
	}
	switch internal.KindOf(err) {
	case internal.KindPermissionDenied:
		return ExitPermissionDenied
	case internal.KindCollectionUnavailable:
		return ExitCollectionUnavailable
	case internal.KindDirectoryUnreadable:
		return ExitDirectoryUnreadable
	}
	return ExitFailure
}

// Reported tells whether err already reached the operator through a
// Reporter and needs no second print.
func Reported(err error) bool {
	var procErr *internal.ProcessError
	return errors.As(err, &procErr)
}

// loadSettings reads the settings file and applies the persistent flags.
func loadSettings(out io.Writer) (*internal.Config, error) {
	cfg, err := internal.LoadConfig(internal.LoadOptions{
		Path:     configFlag,
		Confirm:  internal.PromptConfirmer{In: os.Stdin, Out: out, AssumeYes: yesFlag},
		Reporter: internal.NewConsoleReporter(out, false),
	})
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, nil
}

// openLogger falls back to stderr-only logging when the log file cannot be
// opened, e.g. before the library directory is authorized.
func openLogger(cfg *internal.Config, errOut io.Writer) *internal.Logger {
	logger, err := internal.NewLogger(cfg.LogPath(), cfg.Debug)
	if err == nil {
		return logger
	}
	fmt.Fprintf(errOut, "warning: %v, logging to stderr only\n", err)
	logger, err = internal.NewLogger("", cfg.Debug)
	if err != nil {
		return &internal.Logger{Logger: zap.NewNop()}
	}
	return logger
}

// newRewriter picks the metadata writer for cfg. The returned func releases
// its resources.
func newRewriter(cfg *internal.Config, logger *zap.Logger) (internal.Rewriter, func()) {
	if !cfg.AddMetadataTag {
		return internal.NopRewriter{}, func() {}
	}
	native := internal.NewExifRewriter(cfg.MarkerValue, logger)
	if !cfg.UseExifTool {
		return native, func() {}
	}
	et := internal.NewExiftoolRewriter(cfg.MarkerValue, native, logger)
	return et, func() { _ = et.Close() }
}
