package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/caevv/buildwatch/internal/config"
)

// SupportedDrivers lists all available store drivers.
var SupportedDrivers = []string{"bbolt", "postgres"}

// NewStore creates a Store for the configured driver:
//   - "bbolt": single-file embedded store, good for one replica
//   - "postgres": shared relational store, required for several replicas
func NewStore(ctx context.Context, cfg config.Store) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "bbolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path is required")
		}
		return NewBoltStore(cfg.Path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store dsn is required")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: %v)", driver, SupportedDrivers)
	}
}
