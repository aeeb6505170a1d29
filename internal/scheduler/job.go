package scheduler

import "context"

// JobRunner is what a scheduled tick invokes for a job. It should respect
// context cancellation for graceful shutdown.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// RunnerFunc adapts a plain function to JobRunner.
type RunnerFunc func(ctx context.Context, jobID string) error

func (f RunnerFunc) RunJob(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}
