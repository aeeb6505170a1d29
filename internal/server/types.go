package server

import (
	"time"

	"github.com/caevv/buildwatch/internal/syncer"
)

// JobSummary is a registered job with its sync status.
type JobSummary struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Path       string       `json:"path"`
	Kind       string       `json:"kind"`
	Dimensions []string     `json:"dimensions"`
	Sync       syncer.State `json:"sync"`
	LastTick   *time.Time   `json:"last_scheduled_sync,omitempty"`
	NextTick   *time.Time   `json:"next_scheduled_sync,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Jobs    int    `json:"jobs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// BackfillResponse acknowledges an accepted backfill.
type BackfillResponse struct {
	JobID  string `json:"job_id"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
