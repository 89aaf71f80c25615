package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "attuned",
	Short: "Arousal classification service",
	Long: `attuned ingests pose, facial, and vocal feature frames and classifies
each child's arousal state into one of five regulation bands, with
per-child threshold personalization and temporal smoothing.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (JSON or YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return os.Getenv("ATTUNE_CONFIG")
}
