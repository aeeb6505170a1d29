package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/caevv/buildwatch/internal/config"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate buildwatch configuration file",
	Long: `Validate the syntax and semantics of a buildwatch configuration file.

This command loads and validates the configuration file without touching
the store or the CI server. It checks for:
  - Valid YAML syntax
  - Required fields and a reachable-looking Jenkins URL
  - Known job kinds and unique job IDs
  - A parseable sync schedule
  - Valid store and lock driver configuration

Example:
  buildwatch validate --config ./buildwatch.yaml`,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	logger.Info("validating configuration", "path", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := scheduler.ValidateSchedule(cfg.Sync.Schedule); err != nil {
		return fmt.Errorf("validation failed: sync.schedule: %w", err)
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	next, err := scheduler.NextRun(cfg.Sync.Schedule, time.Now())
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for _, job := range reg.All() {
		logger.Debug("job",
			"id", job.ID,
			"path", job.RemotePath,
			"kind", job.Kind.Name,
			"dimensions", job.Kind.Dimensions)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n✓ Configuration is valid: %s\n", configPath)
	fmt.Fprintf(out, "  Jenkins: %s\n", cfg.Jenkins.URL)
	fmt.Fprintf(out, "  Jobs: %d\n", reg.Len())
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Driver)
	fmt.Fprintf(out, "  Lock: %s\n", cfg.Sync.Lock.Driver)
	fmt.Fprintf(out, "  Schedule: %s (next: %s)\n", cfg.Sync.Schedule, next.Format(time.RFC3339))

	return nil
}
