// Package analytics derives read-only statistics from stored build history.
package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/caevv/buildwatch/internal/config"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/store"
)

// Options bounds the windows used by the engine.
type Options struct {
	AttributionWindow  int
	DailyDays          int
	DurationTrendLimit int
}

// OptionsFromConfig converts the analytics section of the config.
func OptionsFromConfig(c config.Analytics) Options {
	opts := Options{
		AttributionWindow:  c.AttributionWindow,
		DailyDays:          c.DailyDays,
		DurationTrendLimit: c.DurationTrendLimit,
	}
	if opts.AttributionWindow <= 0 {
		opts.AttributionWindow = 100
	}
	if opts.DailyDays <= 0 {
		opts.DailyDays = 30
	}
	if opts.DurationTrendLimit <= 0 {
		opts.DurationTrendLimit = 50
	}
	return opts
}

// Scope narrows a statistics query. Zero values mean "no restriction".
type Scope struct {
	JobID     string
	Since     time.Time
	Until     time.Time
	Dimension string
	Value     string
}

// Engine computes statistics over a Store.
type Engine struct {
	store    store.Store
	registry *registry.Registry
	opts     Options
	now      func() time.Time
}

// New creates an analytics engine.
func New(st store.Store, reg *registry.Registry, opts Options) *Engine {
	return &Engine{store: st, registry: reg, opts: opts, now: time.Now}
}

// filter validates the scope and turns it into a store filter.
func (e *Engine) filter(scope Scope) (store.Filter, error) {
	var f store.Filter
	f.Since, f.Until = scope.Since, scope.Until

	if scope.JobID != "" {
		job, err := e.registry.Get(scope.JobID)
		if err != nil {
			return f, err
		}
		if scope.Dimension != "" {
			if err := job.Kind.CheckDimension(scope.Dimension); err != nil {
				return f, err
			}
		}
	}
	if scope.Dimension != "" && scope.Value != "" {
		f.Dimensions = map[string][]string{scope.Dimension: {scope.Value}}
	}
	return f, nil
}

// OverallStats is the status breakdown of a scope.
type OverallStats struct {
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Failure       int     `json:"failure"`
	Unstable      int     `json:"unstable"`
	Aborted       int     `json:"aborted"`
	InProgress    int     `json:"in_progress"`
	Unknown       int     `json:"unknown"`
	SuccessRate   float64 `json:"success_rate"`
	FailureRate   float64 `json:"failure_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Overall computes counts and rates for the scope. Only FAILURE counts
// toward the failure rate.
func (e *Engine) Overall(ctx context.Context, scope Scope) (*OverallStats, error) {
	f, err := e.filter(scope)
	if err != nil {
		return nil, err
	}
	agg, err := e.store.Aggregate(ctx, scope.JobID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate builds: %w", err)
	}

	return &OverallStats{
		Total:         agg.Count,
		Success:       agg.ByStatus[store.StatusSuccess],
		Failure:       agg.ByStatus[store.StatusFailure],
		Unstable:      agg.ByStatus[store.StatusUnstable],
		Aborted:       agg.ByStatus[store.StatusAborted],
		InProgress:    agg.ByStatus[store.StatusInProgress],
		Unknown:       agg.ByStatus[store.StatusUnknown],
		SuccessRate:   percent(agg.ByStatus[store.StatusSuccess], agg.Count),
		FailureRate:   percent(agg.ByStatus[store.StatusFailure], agg.Count),
		AvgDurationMs: round2(agg.AvgDurationMs()),
	}, nil
}

// DimensionStats is the breakdown for one value of a dimension.
type DimensionStats struct {
	Dimension   string  `json:"dimension"`
	Value       string  `json:"value"`
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
}

// ByDimension breaks a job's builds down by every stored value of its
// primary dimension, sorted by value. The scope's job id is ignored.
func (e *Engine) ByDimension(ctx context.Context, jobID string, scope Scope) ([]DimensionStats, error) {
	job, err := e.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	scope.JobID = jobID
	base, err := e.filter(scope)
	if err != nil {
		return nil, err
	}

	dim := job.Kind.PrimaryDimension()
	values, err := e.store.DistinctParameterValues(ctx, jobID, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", dim, err)
	}
	slices.Sort(values)

	out := make([]DimensionStats, 0, len(values))
	for _, v := range values {
		f := base
		f.Dimensions = map[string][]string{dim: {v}}
		for name, vals := range base.Dimensions {
			if name != dim {
				f.Dimensions[name] = vals
			}
		}

		agg, err := e.store.Aggregate(ctx, jobID, f)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s=%s: %w", dim, v, err)
		}
		out = append(out, DimensionStats{
			Dimension:   dim,
			Value:       v,
			Total:       agg.Count,
			Success:     agg.ByStatus[store.StatusSuccess],
			Failure:     agg.ByStatus[store.StatusFailure],
			SuccessRate: percent(agg.ByStatus[store.StatusSuccess], agg.Count),
		})
	}
	return out, nil
}

// DailyStats is one UTC calendar day.
type DailyStats struct {
	Date          string  `json:"date"`
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Failure       int     `json:"failure"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Daily returns one bucket per UTC day for the trailing days ending today,
// oldest first. Days without builds are present with zero counts. A scope
// time range narrows the query but not the set of buckets.
func (e *Engine) Daily(ctx context.Context, scope Scope, days int) ([]DailyStats, error) {
	if days <= 0 {
		days = e.opts.DailyDays
	}
	f, err := e.filter(scope)
	if err != nil {
		return nil, err
	}

	today := e.now().UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(days - 1))
	if f.Since.IsZero() || f.Since.Before(first) {
		f.Since = first
	}
	if end := today.AddDate(0, 0, 1); f.Until.IsZero() || f.Until.After(end) {
		f.Until = end
	}

	buckets, err := e.store.Daily(ctx, scope.JobID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily builds: %w", err)
	}
	byDate := make(map[string]*store.Aggregate, len(buckets))
	for _, b := range buckets {
		byDate[b.Date] = b.Aggregate
	}

	out := make([]DailyStats, days)
	for i := range out {
		date := store.DayKey(first.AddDate(0, 0, i))
		out[i].Date = date
		if agg, ok := byDate[date]; ok {
			out[i].Total = agg.Count
			out[i].Success = agg.ByStatus[store.StatusSuccess]
			out[i].Failure = agg.ByStatus[store.StatusFailure]
			out[i].AvgDurationMs = round2(agg.AvgDurationMs())
		}
	}
	return out, nil
}

// DurationPoint is one build on the duration chart.
type DurationPoint struct {
	JobID      string       `json:"job_id"`
	Number     int          `json:"number"`
	Status     store.Status `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
}

// DurationTrend returns the latest limit builds with a known duration,
// oldest first.
func (e *Engine) DurationTrend(ctx context.Context, scope Scope, limit int) ([]DurationPoint, error) {
	if limit <= 0 {
		limit = e.opts.DurationTrendLimit
	}
	f, err := e.filter(scope)
	if err != nil {
		return nil, err
	}
	f.WithDuration = true

	builds, _, err := e.store.List(ctx, scope.JobID, f, 1, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}

	out := make([]DurationPoint, 0, len(builds))
	for i := len(builds) - 1; i >= 0; i-- {
		b := builds[i]
		out = append(out, DurationPoint{
			JobID:      b.JobID,
			Number:     b.Number,
			Status:     b.Status,
			StartedAt:  b.StartedAt,
			DurationMs: *b.DurationMs,
		})
	}
	return out, nil
}

// DimensionStatus is the current state of one primary-dimension value.
type DimensionStatus struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
	Attribution
}

// Status reports, per value of the job's primary dimension, the latest build
// and who broke it if it is failing.
func (e *Engine) Status(ctx context.Context, jobID string) ([]DimensionStatus, error) {
	job, err := e.registry.Get(jobID)
	if err != nil {
		return nil, err
	}

	dim := job.Kind.PrimaryDimension()
	values, err := e.store.DistinctParameterValues(ctx, jobID, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", dim, err)
	}
	slices.Sort(values)

	window := e.opts.AttributionWindow
	out := make([]DimensionStatus, 0, len(values))
	for _, v := range values {
		f := store.Filter{Dimensions: map[string][]string{dim: {v}}}
		builds, _, err := e.store.List(ctx, jobID, f, 1, window)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s=%s: %w", dim, v, err)
		}
		out = append(out, DimensionStatus{
			Dimension:   dim,
			Value:       v,
			Attribution: Attribute(builds, window),
		})
	}
	return out, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
