// Package syncer reconciles the local build history with the CI server.
//
// Backfill walks every build from 1 to the latest; refresh re-fetches the
// trailing window so in-progress builds converge to their final state. Both
// run as sequential batches whose builds are fetched concurrently.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caevv/buildwatch/internal/config"
	"github.com/caevv/buildwatch/internal/jenkins"
	"github.com/caevv/buildwatch/internal/logging"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/telemetry"
)

var (
	// ErrSyncInProgress rejects a trigger while the job is already syncing.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrUnknownJob is the registry's error, re-exported for API callers.
	ErrUnknownJob = registry.ErrUnknownJob
)

// Fetcher is the part of the CI client the syncer needs.
type Fetcher interface {
	LatestBuildNumber(ctx context.Context, path string) (int, error)
	BuildInfo(ctx context.Context, path string, number int) (*jenkins.Build, error)
}

// Mode names the kind of sync run.
type Mode string

const (
	ModeBackfill Mode = "backfill"
	ModeRefresh  Mode = "refresh"
)

// Options tunes batch sizes and pacing.
type Options struct {
	RefreshWindow     int
	RefreshBatchSize  int
	BackfillBatchSize int
	BackfillPause     time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		RefreshWindow:     100,
		RefreshBatchSize:  20,
		BackfillBatchSize: 10,
		BackfillPause:     200 * time.Millisecond,
	}
}

// OptionsFromConfig converts the sync section of the config.
func OptionsFromConfig(c config.Sync) Options {
	opts := Options{
		RefreshWindow:     c.RefreshWindow,
		RefreshBatchSize:  c.RefreshBatchSize,
		BackfillBatchSize: c.BackfillBatchSize,
		BackfillPause:     time.Duration(c.BackfillPauseMs) * time.Millisecond,
	}
	def := DefaultOptions()
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = def.RefreshWindow
	}
	if opts.RefreshBatchSize <= 0 {
		opts.RefreshBatchSize = def.RefreshBatchSize
	}
	if opts.BackfillBatchSize <= 0 {
		opts.BackfillBatchSize = def.BackfillBatchSize
	}
	if opts.BackfillPause < 0 {
		opts.BackfillPause = 0
	}
	return opts
}

// Syncer runs backfill and refresh for registered jobs.
type Syncer struct {
	registry *registry.Registry
	fetcher  Fetcher
	store    store.Store
	locker   Locker
	opts     Options
	logger   *slog.Logger

	// ctx bounds background runs started by StartBackfill.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	states map[string]*State
}

// New creates a Syncer. A nil locker means an in-process guard.
func New(reg *registry.Registry, fetcher Fetcher, st store.Store, locker Locker, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Syncer{
		registry: reg,
		fetcher:  fetcher,
		store:    st,
		locker:   locker,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[string]*State, reg.Len()),
	}
	for _, id := range reg.IDs() {
		s.states[id] = &State{JobID: id}
	}
	return s
}

// Backfill ingests every build of the job and blocks until done.
func (s *Syncer) Backfill(ctx context.Context, jobID string) (*Result, error) {
	job, unlock, err := s.acquire(ctx, jobID, ModeBackfill)
	if err != nil {
		return nil, err
	}
	defer s.release(unlock, jobID)

	return s.execute(ctx, job, s.begin(job.ID, ModeBackfill))
}

// StartBackfill claims the job and runs the backfill in the background. It
// returns the run id as soon as the guard is held.
func (s *Syncer) StartBackfill(ctx context.Context, jobID string) (string, error) {
	job, unlock, err := s.acquire(ctx, jobID, ModeBackfill)
	if err != nil {
		return "", err
	}

	res := s.begin(job.ID, ModeBackfill)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(unlock, jobID)
		// The error is already logged and recorded in the job state.
		_, _ = s.execute(s.ctx, job, res)
	}()
	return res.RunID, nil
}

// Refresh re-fetches the trailing window of the job and blocks until done.
func (s *Syncer) Refresh(ctx context.Context, jobID string) (*Result, error) {
	job, unlock, err := s.acquire(ctx, jobID, ModeRefresh)
	if err != nil {
		return nil, err
	}
	defer s.release(unlock, jobID)

	return s.execute(ctx, job, s.begin(job.ID, ModeRefresh))
}

// RefreshAll refreshes every job in registry order. Jobs already syncing are
// skipped; other failures are joined.
func (s *Syncer) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.registry.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Refresh(ctx, id); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunJob refreshes one job on behalf of the scheduler. A tick that finds the
// job already syncing is not an error.
func (s *Syncer) RunJob(ctx context.Context, jobID string) error {
	_, err := s.Refresh(ctx, jobID)
	if errors.Is(err, ErrSyncInProgress) {
		logging.ForJob(s.logger, jobID).Debug("skipping scheduled refresh, sync in progress")
		return nil
	}
	return err
}

// Close stops background runs between batches, waits for them to exit and
// closes the locker.
func (s *Syncer) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.locker.Close()
}

func (s *Syncer) acquire(ctx context.Context, jobID string, mode Mode) (*registry.Job, Unlock, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.locker.TryLock(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			telemetry.SyncRuns.WithLabelValues(string(mode), "rejected").Inc()
			return nil, nil, fmt.Errorf("%w: %s", ErrSyncInProgress, jobID)
		}
		return nil, nil, err
	}
	return job, unlock, nil
}

func (s *Syncer) release(unlock Unlock, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlock(ctx); err != nil {
		logging.ForJob(s.logger, jobID).Warn("failed to release sync lock", "error", err)
	}
}

// execute resolves the range for res.Mode and runs it. The guard is held by
// the caller.
func (s *Syncer) execute(ctx context.Context, job *registry.Job, res *Result) (_ *Result, err error) {
	mode := res.Mode
	logger := logging.ForRun(s.logger, job.ID, res.RunID, string(mode))
	ctx = logging.WithContext(ctx, logger)

	telemetry.SyncsInProgress.Inc()
	defer func() {
		telemetry.SyncsInProgress.Dec()
		res.FinishedAt = time.Now().UTC()
		telemetry.SyncDuration.WithLabelValues(string(mode)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		telemetry.SyncRuns.WithLabelValues(string(mode), outcome).Inc()
		s.finish(res, err)
	}()

	latest, err := s.fetcher.LatestBuildNumber(ctx, job.RemotePath)
	if err != nil {
		logger.Error("failed to resolve latest build", "error", err)
		return res, fmt.Errorf("job %s: resolve latest build: %w", job.ID, err)
	}

	batchSize, pause := s.opts.BackfillBatchSize, s.opts.BackfillPause
	res.From = 1
	if mode == ModeRefresh {
		batchSize, pause = s.opts.RefreshBatchSize, 0
		res.From = max(1, latest-s.opts.RefreshWindow+1)
	}
	res.To = latest
	res.Total = max(0, res.To-res.From+1)
	s.update(job.ID, func(st *State) { st.Total = res.Total })

	logger.Info("sync started", "from", res.From, "to", res.To, "batch_size", batchSize)

	if err := s.runRange(ctx, job, res, batchSize, pause); err != nil {
		logger.Warn("sync interrupted", "error", err, "fetched", res.Fetched, "failed", res.Failed)
		return res, fmt.Errorf("job %s: %s interrupted: %w", job.ID, mode, err)
	}

	logger.Info("sync completed",
		"fetched", res.Fetched,
		"failed", res.Failed,
		"batches", res.Batches,
		"duration", time.Since(res.StartedAt))
	return res, nil
}

// runRange partitions [res.From, res.To] into batches of batchSize. Builds of
// one batch are fetched concurrently and the batch is awaited before the
// next one starts. Cancellation of ctx is only observed between batches;
// requests already in flight run to completion.
func (s *Syncer) runRange(ctx context.Context, job *registry.Job, res *Result, batchSize int, pause time.Duration) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	logger := logging.FromContext(ctx)
	taskCtx := context.WithoutCancel(ctx)

	for start := res.From; start <= res.To; start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize-1, res.To)

		var (
			g       errgroup.Group
			fetched atomic.Int64
			failed  atomic.Int64
		)
		for n := start; n <= end; n++ {
			n := n
			g.Go(func() error {
				if s.syncBuild(taskCtx, job, res.Mode, n) {
					fetched.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		res.Batches++
		res.Fetched += int(fetched.Load())
		res.Failed += int(failed.Load())
		s.update(job.ID, func(st *State) {
			st.Done = res.Fetched + res.Failed
			st.Failed = res.Failed
		})
		logger.Debug("batch completed",
			"from", start,
			"to", end,
			"progress", fmt.Sprintf("%d/%d", res.Fetched+res.Failed, res.Total))

		if pause > 0 && end < res.To {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return nil
}

// syncBuild fetches and stores one build. Failures are logged and counted,
// never returned: one bad build must not stop its batch.
func (s *Syncer) syncBuild(ctx context.Context, job *registry.Job, mode Mode, number int) bool {
	logger := logging.FromContext(ctx)
	b, err := s.fetcher.BuildInfo(ctx, job.RemotePath, number)
	if err != nil {
		telemetry.SyncBuilds.WithLabelValues(string(mode), telemetry.ResultFetchFailed).Inc()
		logger.Warn("failed to fetch build", "build", number, "error", err)
		return false
	}

	rec := b.Record(job.ID)
	rec.Number = number
	rec.Tag = job.DeriveTag(number, rec.ParamMap())

	if err := s.store.Upsert(ctx, rec); err != nil {
		telemetry.SyncBuilds.WithLabelValues(string(mode), telemetry.ResultStoreFailed).Inc()
		logger.Error("failed to store build", "build", number, "error", err)
		return false
	}

	telemetry.SyncBuilds.WithLabelValues(string(mode), telemetry.ResultSynced).Inc()
	return true
}
