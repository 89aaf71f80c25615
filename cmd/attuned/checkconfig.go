package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attune/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and print the effective settings",
	RunE:  runCheckConfig,
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configPath())
	if path == "" {
		fmt.Println("no config file given, defaults apply")
		return nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %s\n", path)
	fmt.Printf("  log_level:        %s\n", cfg.LogLevel)
	fmt.Printf("  rest ingest:      enabled=%v addr=%s\n", cfg.Ingest.REST.Enabled, cfg.Ingest.REST.Addr)
	fmt.Printf("  kafka ingest:     enabled=%v topic=%s\n", cfg.Ingest.Kafka.Enabled, cfg.Ingest.Kafka.Topic)
	fmt.Printf("  mqtt ingest:      enabled=%v topic=%s\n", cfg.Ingest.MQTT.Enabled, cfg.Ingest.MQTT.Topic)
	fmt.Printf("  api:              enabled=%v addr=%s\n", cfg.API.Enabled, cfg.API.Addr)
	fmt.Printf("  thresholds:       shutdown=%.2f green=%.2f yellow=%.2f orange=%.2f\n",
		cfg.Engine.Thresholds.Shutdown, cfg.Engine.Thresholds.Green, cfg.Engine.Thresholds.Yellow, cfg.Engine.Thresholds.Orange)
	fmt.Printf("  smoothing_window: %d\n", cfg.Engine.SmoothingWindow)
	fmt.Printf("  reasoning:        enabled=%v base_url=%s\n", cfg.Reasoning.Enabled, cfg.Reasoning.BaseURL)
	fmt.Printf("  storage:          enabled=%v driver=%s\n", cfg.Storage.Enabled, cfg.Storage.Driver)
	fmt.Printf("  redis:            enabled=%v addr=%s\n", cfg.State.Redis.Enabled, cfg.State.Redis.Addr)
	fmt.Printf("  profiles:         path=%s\n", cfg.Profiles.Path)
	return nil
}
