package main

import (
	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
	"github.com/sdss/archond/internal/debugui"
	"github.com/sdss/archond/internal/logging"
)

var debugUIAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: connect every configured controller and serve the debug UI",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&debugUIAddrFlag, "debug-ui-addr", "", "override the config's debug_ui_addr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := contextWithInterrupt()
	defer stop()

	watcher, err := config.NewWatcher(globalConfigPath)
	if err != nil {
		return exitErr(err)
	}
	go watcher.Run(ctx)

	cfg := watcher.Current()
	f, err := buildFleet(ctx, cfg)
	if err != nil {
		return exitErr(err)
	}
	defer f.Close()

	addr := debugUIAddrFlag
	if addr == "" {
		addr = cfg.DebugUIAddr
	}
	if addr != "" {
		ui := debugui.New(f.sink, cfg.DebugUIStaticDir)
		bound, err := ui.Start(ctx, addr)
		if err != nil {
			return exitErr(err)
		}
		logging.Default().Info("debug UI listening", "addr", debugui.Addr(bound))
	}

	if _, err := f.orch.Recover(ctx, cfg.LockfileDirs); err != nil {
		logging.Default().Warn("startup recovery scan failed", "err", err)
	}

	logging.Default().Info("archond serving", "controllers", len(f.units))
	<-ctx.Done()
	logging.Default().Info("archond shutting down")
	return nil
}
