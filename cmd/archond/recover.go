package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Scan for orphaned lockfiles left by a crash and re-write their FITS files",
	RunE:  runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
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

	result, err := f.orch.Recover(ctx, cfg.LockfileDirs)
	if err != nil {
		return exitErr(err)
	}

	fmt.Printf("recovered %d file(s)\n", len(result.Recovered))
	for _, path := range result.Recovered {
		fmt.Println(" ", path)
	}
	for path, ferr := range result.Failed {
		fmt.Printf("  failed %s: %v\n", path, ferr)
	}
	return nil
}
