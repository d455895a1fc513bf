package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Abort any in-flight exposure and return every controller to idle",
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
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

	if err := f.orch.Reset(ctx); err != nil {
		return exitErr(err)
	}
	fmt.Println("reset")
	return nil
}
