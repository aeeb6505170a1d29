// Package query serves build listings, single builds and console logs.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/caevv/buildwatch/internal/jenkins"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/telemetry"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

var (
	ErrUnknownJob       = registry.ErrUnknownJob
	ErrUnknownDimension = registry.ErrUnknownDimension
)

// ConsoleFetcher retrieves console output from the CI server.
type ConsoleFetcher interface {
	ConsoleText(ctx context.Context, path string, number int) (string, error)
}

// Service answers build queries for registered jobs.
type Service struct {
	registry *registry.Registry
	store    store.Store
	console  ConsoleFetcher
	logger   *slog.Logger

	logs singleflight.Group
}

func New(reg *registry.Registry, st store.Store, console ConsoleFetcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, store: st, console: console, logger: logger}
}

// Jobs returns every registered job in configuration order.
func (s *Service) Jobs() []*registry.Job {
	return s.registry.All()
}

// Job returns one registered job.
func (s *Service) Job(id string) (*registry.Job, error) {
	return s.registry.Get(id)
}

// ListOptions selects a page of builds.
type ListOptions struct {
	Statuses   []store.Status
	Dimensions map[string][]string
	Search     string
	Page       int
	PageSize   int
}

// Page is one page of a build listing.
type Page struct {
	Builds   []*store.Build `json:"builds"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ListBuilds returns builds of jobID, newest first. Dimension names must
// belong to the job's kind.
func (s *Service) ListBuilds(ctx context.Context, jobID string, opts ListOptions) (*Page, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	for name := range opts.Dimensions {
		if err := job.Kind.CheckDimension(name); err != nil {
			return nil, err
		}
	}

	page, size := normalizePage(opts.Page, opts.PageSize)
	f := store.Filter{
		Statuses:   opts.Statuses,
		Dimensions: opts.Dimensions,
		Search:     opts.Search,
	}

	builds, total, err := s.store.List(ctx, jobID, f, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	if builds == nil {
		builds = []*store.Build{}
	}
	return &Page{Builds: builds, Total: total, Page: page, PageSize: size}, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// GetBuild returns one build. Missing builds return store.ErrNotFound.
func (s *Service) GetBuild(ctx context.Context, jobID string, number int) (*store.Build, error) {
	if _, err := s.registry.Get(jobID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, jobID, number)
}

// ConsoleLog returns the console output of a stored build. A cached log is
// served from the store; otherwise it is fetched from the CI server and
// written back once the build has finished. Concurrent misses for the same
// build share one fetch.
func (s *Service) ConsoleLog(ctx context.Context, jobID string, number int) (string, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return "", err
	}

	b, err := s.store.Get(ctx, jobID, number)
	if err != nil {
		return "", err
	}
	if b.ConsoleLog != "" {
		telemetry.ConsoleLogLookups.WithLabelValues("cache").Inc()
		return b.ConsoleLog, nil
	}

	key := jobID + "/" + strconv.Itoa(number)
	v, err, _ := s.logs.Do(key, func() (any, error) {
		telemetry.ConsoleLogLookups.WithLabelValues("remote").Inc()

		text, err := s.console.ConsoleText(context.WithoutCancel(ctx), job.RemotePath, number)
		truncated := errors.Is(err, jenkins.ErrTruncated)
		if err != nil && !truncated {
			return "", fmt.Errorf("failed to fetch console log for %s #%d: %w", jobID, number, err)
		}
		if truncated {
			s.logger.Warn("console log truncated, serving it uncached",
				"job_id", jobID, "build", number, "bytes", len(text))
		}

		// A running build's log is still growing; a cut one is incomplete.
		if b.Status.Terminal() && !truncated {
			if err := s.store.SetConsoleLog(context.WithoutCancel(ctx), jobID, number, text); err != nil {
				s.logger.Warn("failed to cache console log",
					"job_id", jobID, "build", number, "error", err)
			}
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
