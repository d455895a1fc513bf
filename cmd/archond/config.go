package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdss/archond/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the daemon config and print the controllers it describes",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		return exitErr(err)
	}
	fmt.Printf("observatory=%s hemisphere=%s path_template=%s\n", cfg.Observatory, cfg.Hemisphere, cfg.PathTemplate)
	for _, ctrl := range cfg.Controllers {
		fmt.Printf("  %s %s:%d acf=%s detectors=%d\n", ctrl.Name, ctrl.Host, ctrl.Port, ctrl.ACFPath, len(ctrl.Detectors))
	}
	return nil
}
