package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the refresh scheduler",
	Long: `Start the refresh scheduler together with the HTTP API.

This command loads the configuration file, opens the store, schedules a
refresh of every configured job and serves build history, statistics and
sync triggers over HTTP, with Prometheus metrics at /metrics.

Example:
  buildwatch serve --config ./buildwatch.yaml --addr :8080`,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "HTTP server address (host:port), overrides server.addr")
	serveCmd.Flags().Bool("no-schedule", false, "Serve the API without periodic refresh")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	noSchedule, _ := cmd.Flags().GetBool("no-schedule")

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

	logger.Info("starting buildwatch in serve mode",
		"config", configPath,
		"addr", addr,
		"jobs", a.registry.Len(),
		"schedule", cfg.Sync.Schedule)

	g, gCtx := errgroup.WithContext(ctx)

	if !noSchedule {
		sched, err := a.newScheduler(gCtx)
		if err != nil {
			return err
		}
		srv := a.newServer(addr, sched)

		g.Go(func() error {
			if err := sched.Start(); err != nil {
				return fmt.Errorf("scheduler error: %w", err)
			}
			<-gCtx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Error("error stopping scheduler", "error", err)
			}
			return nil
		})
		g.Go(func() error { return serveHTTP(gCtx, srv.Start) })
	} else {
		srv := a.newServer(addr, nil)
		g.Go(func() error { return serveHTTP(gCtx, srv.Start) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("error during execution", "error", err)
		return err
	}

	logger.Info("buildwatch stopped")
	return nil
}

func serveHTTP(ctx context.Context, start func(context.Context) error) error {
	if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
