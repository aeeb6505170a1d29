package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the refresh scheduler without the HTTP API",
	Long: `Start the refresh scheduler in headless mode.

Every configured job is refreshed on the sync schedule until the process
receives SIGINT or SIGTERM. Use --initial to refresh all jobs once before
the first tick.

Example:
  buildwatch run --config ./buildwatch.yaml`,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().Bool("initial", false, "Refresh every job once at startup")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initial, _ := cmd.Flags().GetBool("initial")

	ctx := setupSignalHandler()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close components", "error", err)
		}
	}()

	logger.Info("starting buildwatch in run mode",
		"config", configPath,
		"jobs", a.registry.Len(),
		"schedule", cfg.Sync.Schedule)

	if initial {
		if err := a.syncer.RefreshAll(ctx); err != nil {
			logger.Warn("initial refresh finished with errors", "error", err)
		}
	}

	sched, err := a.newScheduler(ctx)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("scheduler started successfully", "scheduled_jobs", len(sched.JobIDs()))

	<-ctx.Done()

	logger.Info("shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		logger.Error("error during scheduler shutdown", "error", err)
		return err
	}

	logger.Info("buildwatch stopped")
	return nil
}
