// Package scheduler triggers periodic refreshes of tracked jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps robfig/cron and manages entry lifecycle with context support.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	jobs   map[string]*scheduledJob // jobID -> scheduledJob
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// scheduledJob tracks a job and its cron entry.
type scheduledJob struct {
	jobID    string
	schedule string
	runner   JobRunner
	entryID  cron.EntryID
	lastRun  time.Time
	lastErr  string
	nextRun  time.Time
	runCount int64
}

// New creates a new Scheduler. Cancelling ctx is seen by running ticks.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	schedCtx, cancel := context.WithCancel(ctx)

	cronLogger := &cronSlogAdapter{logger: logger}

	// A tick still running when the next one fires is skipped, so a slow
	// refresh never stacks up behind itself.
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	return &Scheduler{
		cron:   c,
		ctx:    schedCtx,
		cancel: cancel,
		logger: logger,
		jobs:   make(map[string]*scheduledJob),
	}
}

// AddJob schedules runner for jobID. Returns an error if the job is already
// scheduled or the schedule is invalid.
func (s *Scheduler) AddJob(jobID, schedule string, runner JobRunner) error {
	if runner == nil {
		return fmt.Errorf("runner cannot be nil")
	}
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; exists {
		return fmt.Errorf("job with ID %q already exists", jobID)
	}

	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("failed to parse schedule for job %q: %w", jobID, err)
	}

	entryID := s.cron.Schedule(sched, s.wrapJob(jobID, runner))

	next := sched.Next(time.Now())
	s.jobs[jobID] = &scheduledJob{
		jobID:    jobID,
		schedule: schedule,
		runner:   runner,
		entryID:  entryID,
		nextRun:  next,
	}

	s.logger.Info("job added to scheduler",
		slog.String("job_id", jobID),
		slog.String("schedule", schedule),
		slog.Time("next_run", next),
	)

	return nil
}

// wrapJob adapts a JobRunner to a cron.Job bound to the scheduler context.
func (s *Scheduler) wrapJob(jobID string, runner JobRunner) cron.FuncJob {
	return func() {
		s.mu.Lock()
		sj, exists := s.jobs[jobID]
		if !exists {
			s.mu.Unlock()
			return
		}
		sj.lastRun = time.Now()
		sj.runCount++
		s.mu.Unlock()

		s.wg.Add(1)
		defer s.wg.Done()

		s.logger.Debug("scheduled refresh starting", slog.String("job_id", jobID))

		startTime := time.Now()
		err := runner.RunJob(s.ctx, jobID)
		duration := time.Since(startTime)

		if err != nil {
			s.logger.Error("scheduled refresh failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
				slog.Duration("duration", duration),
			)
		} else {
			s.logger.Debug("scheduled refresh completed",
				slog.String("job_id", jobID),
				slog.Duration("duration", duration),
			)
		}

		s.mu.Lock()
		if sj, exists := s.jobs[jobID]; exists {
			sj.lastErr = ""
			if err != nil {
				sj.lastErr = err.Error()
			}
			if entry := s.cron.Entry(sj.entryID); entry.ID != 0 {
				sj.nextRun = entry.Next
			}
		}
		s.mu.Unlock()
	}
}

// Start begins firing entries.
func (s *Scheduler) Start() error {
	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()

	if jobCount == 0 {
		s.logger.Warn("starting scheduler with no jobs")
	}

	s.logger.Info("starting scheduler", slog.Int("job_count", jobCount))
	s.cron.Start()

	return nil
}

// Stop cancels running ticks (they stop at their next batch boundary) and
// waits for them to return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler")

	s.cancel()
	cronStopCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronStopCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all scheduled refreshes stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout reached, some refreshes are still running")
		return ctx.Err()
	}
}

// JobIDs returns the scheduled job ids in no particular order.
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// JobStats returns statistics for a scheduled job.
type JobStats struct {
	JobID     string    `json:"job_id"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run"`
	RunCount  int64     `json:"run_count"`
}

// GetJobStats returns statistics for a given job ID.
func (s *Scheduler) GetJobStats(jobID string) (*JobStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, exists := s.jobs[jobID]
	if !exists {
		return nil, false
	}

	nextRun := sj.nextRun
	if entry := s.cron.Entry(sj.entryID); entry.ID != 0 && !entry.Next.IsZero() {
		nextRun = entry.Next
	}

	return &JobStats{
		JobID:     jobID,
		Schedule:  sj.schedule,
		LastRun:   sj.lastRun,
		LastError: sj.lastErr,
		NextRun:   nextRun,
		RunCount:  sj.runCount,
	}, true
}

// cronSlogAdapter adapts slog.Logger to cron.Logger interface.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
