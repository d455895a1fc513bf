package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every configured controller's current status bitmask",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	for _, u := range f.orch.Units() {
		bits := u.Engine.Status()
		fmt.Printf("%s\t%s\n", u.Name, bits.String())
	}
	return nil
}
