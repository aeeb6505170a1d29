package server

import (
	"github.com/caevv/buildwatch/internal/registry"
)

// summarize joins a registered job with its sync state and schedule.
func (s *Server) summarize(job *registry.Job) JobSummary {
	sum := JobSummary{
		ID:         job.ID,
		Name:       job.Name,
		Path:       job.RemotePath,
		Kind:       job.Kind.Name,
		Dimensions: job.Kind.Dimensions,
	}

	if s.syncer != nil {
		if st, err := s.syncer.State(job.ID); err == nil {
			sum.Sync = st
		}
	}
	if sum.Sync.JobID == "" {
		sum.Sync.JobID = job.ID
	}

	if s.schedule != nil {
		if stats, ok := s.schedule.GetJobStats(job.ID); ok {
			if !stats.LastRun.IsZero() {
				last := stats.LastRun
				sum.LastTick = &last
			}
			if !stats.NextRun.IsZero() {
				next := stats.NextRun
				sum.NextTick = &next
			}
		}
	}
	return sum
}
