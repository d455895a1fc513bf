package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/interrupt"
	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/logging"
)

// Version is the CLI's version string. It has the same value as
// orchestrator.SoftwareVersion, which is what the FITS SWVER header card
// carries; Version itself is not referenced elsewhere.
const Version = "archond/1.0"

var (
	globalConfigPath string
	globalLogFormat  string
	globalDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "archond",
	Short: "Archon CCD controller daemon",
	Long: `archond drives one or more STA Archon CCD controllers used in
astronomical spectrographs: it translates high-level exposure requests into
the controllers' line-oriented TCP protocol, tracks exposure progress,
fetches frame buffers, and persists FITS files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "/etc/archond/archond.yaml", "path to the daemon YAML config")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")

	interrupt.HandleCtrlC()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging() {
	level := slog.LevelInfo
	if globalDebug {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Format: globalLogFormat,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
}

// contextWithInterrupt returns a context cancelled on SIGINT/SIGTERM
// (cobra's own lifecycle) or on maruel/interrupt's Channel, whichever
// fires first, so long-running commands (serve, expose) unwind cleanly
// under either signal path.
func contextWithInterrupt() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt.Channel
		stop()
	}()
	return ctx, stop
}
