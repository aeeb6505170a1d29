package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/caevv/buildwatch/internal/analytics"
	"github.com/caevv/buildwatch/internal/config"
	"github.com/caevv/buildwatch/internal/jenkins"
	"github.com/caevv/buildwatch/internal/logging"
	"github.com/caevv/buildwatch/internal/query"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/scheduler"
	"github.com/caevv/buildwatch/internal/server"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/syncer"
)

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	client   *jenkins.Client
	syncer   *syncer.Syncer
	stats    *analytics.Engine
	query    *query.Service
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configPath, nil
}

// newApp builds every component from the configuration. Close releases them.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	// Apply logging config from YAML if provided
	if cfg.Logging.Output != "" || cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		appLogger, err := logging.NewFromConfig(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = appLogger
		slog.SetDefault(appLogger)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build job registry: %w", err)
	}

	st, err := store.NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("store initialized", "driver", cfg.Store.Driver)

	locker, err := syncer.NewLocker(cfg.Sync.Lock)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize sync lock: %w", err)
	}

	client := jenkins.NewClient(jenkins.Options{
		BaseURL:         cfg.Jenkins.URL,
		User:            cfg.Jenkins.User,
		Token:           cfg.Jenkins.Token,
		MetadataTimeout: time.Duration(cfg.Jenkins.MetadataTimeoutSec) * time.Second,
		LogTimeout:      time.Duration(cfg.Jenkins.LogTimeoutSec) * time.Second,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: reg,
		client:   client,
		syncer:   syncer.New(reg, client, st, locker, syncer.OptionsFromConfig(cfg.Sync), logger),
		stats:    analytics.New(st, reg, analytics.OptionsFromConfig(cfg.Analytics)),
		query:    query.New(reg, st, client, logger),
	}, nil
}

// newScheduler registers a refresh tick for every job.
func (a *app) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	sched := scheduler.New(ctx, a.logger)
	for _, id := range a.registry.IDs() {
		if err := sched.AddJob(id, a.cfg.Sync.Schedule, a.syncer); err != nil {
			return nil, fmt.Errorf("failed to schedule job %s: %w", id, err)
		}
	}
	return sched, nil
}

func (a *app) newServer(addr string, sched *scheduler.Scheduler) *server.Server {
	opts := server.Options{
		Addr:    addr,
		Version: version,
		Builds:  a.query,
		Stats:   a.stats,
		Syncer:  a.syncer,
	}
	if sched != nil {
		opts.Schedule = sched
	}
	return server.New(opts, a.logger)
}

// Close stops in-flight syncs, then releases the lock backend and store.
func (a *app) Close() error {
	var errs []error
	if err := a.syncer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("syncer: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
