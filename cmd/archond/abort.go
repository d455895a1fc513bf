package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
)

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort any in-flight exposure on every configured controller",
	RunE:  runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	ctx, stop := contextWithInterrupt()
	defer stop()

	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		return exitErr(err)
	}
	f, err := buildFleet(ctx, cfg)
	if err != nil {
		return exitErr(err)
	}
	defer f.Close()

	if err := f.orch.Abort(ctx); err != nil {
		return exitErr(err)
	}
	fmt.Println("aborted")
	return nil
}
