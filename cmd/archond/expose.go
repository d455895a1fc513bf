package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
	"github.com/sdss/archond/internal/orchestrator"
)

var (
	exposeSeconds  float64
	exposeAutoRead bool
)

var exposeCmd = &cobra.Command{
	Use:   "expose",
	Short: "Expose every configured controller and write the resulting FITS files",
	RunE:  runExpose,
}

func init() {
	exposeCmd.Flags().Float64Var(&exposeSeconds, "seconds", 1, "integration time in seconds")
	exposeCmd.Flags().BoolVar(&exposeAutoRead, "auto-read", true, "read out automatically once integration completes")
	rootCmd.AddCommand(exposeCmd)
}

func runExpose(cmd *cobra.Command, args []string) error {
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

	centiseconds := int(math.Round(exposeSeconds * 100))
	result, err := f.orch.Expose(ctx, orchestrator.ExposeRequest{Centiseconds: centiseconds, AutoRead: exposeAutoRead})
	if err != nil {
		return exitErr(err)
	}

	fmt.Printf("exposure %d: %d file(s) written\n", result.ExposureNo, len(result.Filenames))
	for _, name := range result.Filenames {
		fmt.Println(" ", name)
	}
	for controller, ferr := range result.Errors {
		fmt.Printf("  %s: %v\n", controller, ferr)
	}
	return nil
}
