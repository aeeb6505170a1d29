// Package store persists CI build records and their parameters.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a build is not in the store.
var ErrNotFound = errors.New("build not found")

// Store defines the persistence contract for build history.
//
// Read methods accept an empty jobID to mean "every job".
type Store interface {
	// Upsert inserts or replaces a build keyed by (JobID, Number). The
	// stored parameter set is replaced wholesale in the same transaction.
	// A previously cached console log survives the replace.
	Upsert(ctx context.Context, build *Build) error

	// Get returns one build including its cached console log, or ErrNotFound.
	Get(ctx context.Context, jobID string, number int) (*Build, error)

	// List returns one page of builds matching f, ordered by build number
	// descending, plus the total number of matches. page is 1-based; a
	// pageSize <= 0 returns every match.
	List(ctx context.Context, jobID string, f Filter, page, pageSize int) ([]*Build, int, error)

	// DistinctParameterValues returns the sorted distinct values stored for
	// a parameter name.
	DistinctParameterValues(ctx context.Context, jobID, name string) ([]string, error)

	// Aggregate counts matching builds by status and sums known durations.
	Aggregate(ctx context.Context, jobID string, f Filter) (*Aggregate, error)

	// Daily is Aggregate grouped by the UTC date of StartedAt, oldest first.
	Daily(ctx context.Context, jobID string, f Filter) ([]DailyAggregate, error)

	// SetConsoleLog caches the console output of an existing build.
	SetConsoleLog(ctx context.Context, jobID string, number int, log string) error

	// Close releases any resources held by the store.
	Close() error
}

// Status is the outcome of a build.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusUnstable   Status = "UNSTABLE"
	StatusAborted    Status = "ABORTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusUnknown    Status = "UNKNOWN"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusSuccess,
	StatusFailure,
	StatusUnstable,
	StatusAborted,
	StatusInProgress,
	StatusUnknown,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown build status %q", s)
}

// Terminal reports whether a build in this status will not change again.
func (s Status) Terminal() bool {
	return s != StatusInProgress && s != StatusUnknown
}

// Parameter is one build parameter as declared by the CI system.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Build is a single CI build of a job.
type Build struct {
	JobID       string      `json:"job_id"`
	Number      int         `json:"number"`
	Status      Status      `json:"status"`
	DurationMs  *int64      `json:"duration_ms,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	URL         string      `json:"url"`
	TriggeredBy string      `json:"triggered_by,omitempty"`
	Tag         string      `json:"tag,omitempty"`
	Parameters  []Parameter `json:"parameters"`

	// ConsoleLog is only populated by Get.
	ConsoleLog string `json:"-"`
}

// Param returns the value of the named parameter, or "".
func (b *Build) Param(name string) string {
	for _, p := range b.Parameters {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// ParamMap returns the parameters keyed by name.
func (b *Build) ParamMap() map[string]string {
	m := make(map[string]string, len(b.Parameters))
	for _, p := range b.Parameters {
		m[p.Name] = p.Value
	}
	return m
}

// NormalizeParameters collapses duplicate names: the last value wins and is
// kept at the position of the first occurrence.
func NormalizeParameters(params []Parameter) []Parameter {
	out := make([]Parameter, 0, len(params))
	pos := make(map[string]int, len(params))
	for _, p := range params {
		if i, ok := pos[p.Name]; ok {
			out[i].Value = p.Value
			continue
		}
		pos[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}

func validateBuild(b *Build) error {
	if b == nil {
		return fmt.Errorf("build is required")
	}
	if b.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if b.Number < 1 {
		return fmt.Errorf("build number must be positive, got %d", b.Number)
	}
	return nil
}

// Aggregate is a status histogram plus duration totals.
type Aggregate struct {
	Count         int
	ByStatus      map[Status]int
	DurationSum   int64
	DurationCount int
}

func newAggregate() *Aggregate {
	return &Aggregate{ByStatus: make(map[Status]int)}
}

func (a *Aggregate) add(status Status, n int, durationSum int64, durationCount int) {
	a.Count += n
	a.ByStatus[status] += n
	a.DurationSum += durationSum
	a.DurationCount += durationCount
}

func (a *Aggregate) addBuild(b *Build) {
	if b.DurationMs != nil {
		a.add(b.Status, 1, *b.DurationMs, 1)
		return
	}
	a.add(b.Status, 1, 0, 0)
}

// AvgDurationMs is the mean over builds with a known duration, or 0.
func (a *Aggregate) AvgDurationMs() float64 {
	if a.DurationCount == 0 {
		return 0
	}
	return float64(a.DurationSum) / float64(a.DurationCount)
}

// DailyAggregate is the Aggregate for one UTC calendar day.
type DailyAggregate struct {
	Date string // YYYY-MM-DD
	*Aggregate
}

// DayKey formats t as the UTC date used for daily buckets.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
