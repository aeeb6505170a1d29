package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caevv/buildwatch/internal/jenkins"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/syncer"
)

const (
	maxDailyDays      = 366
	maxDurationPoints = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  s.Uptime(),
		Jobs:    len(s.builds.Jobs()),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.builds.Jobs()
	out := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.summarize(job))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.Job(chi.URLParam(r, "job"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.summarize(job))
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}

	page, err := s.builds.ListBuilds(r.Context(), chi.URLParam(r, "job"), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	number, err := buildNumberParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	build, err := s.builds.GetBuild(r.Context(), chi.URLParam(r, "job"), number)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, build)
}

func (s *Server) handleConsoleLog(w http.ResponseWriter, r *http.Request) {
	number, err := buildNumberParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	text, err := s.builds.ConsoleLog(r.Context(), chi.URLParam(r, "job"), number)
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleOverallStats(w http.ResponseWriter, r *http.Request) {
	scope, err := statsScope(r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}

	stats, err := s.stats.Overall(r.Context(), scope)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := statsScope(q)
	if err != nil {
		s.fail(w, err)
		return
	}
	days, err := intParam(q, "days", 0, maxDailyDays)
	if err != nil {
		s.fail(w, err)
		return
	}

	daily, err := s.stats.Daily(r.Context(), scope, days)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, daily)
}

func (s *Server) handleDurationTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := statsScope(q)
	if err != nil {
		s.fail(w, err)
		return
	}
	limit, err := intParam(q, "limit", 0, maxDurationPoints)
	if err != nil {
		s.fail(w, err)
		return
	}

	points, err := s.stats.DurationTrend(r.Context(), scope, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleDimensionStats(w http.ResponseWriter, r *http.Request) {
	scope, err := statsScope(r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}

	stats, err := s.stats.ByDimension(r.Context(), chi.URLParam(r, "job"), scope)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.stats.Status(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job")

	runID, err := s.syncer.StartBackfill(r.Context(), jobID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, BackfillResponse{JobID: jobID, RunID: runID, Status: "started"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Refresh(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.syncer.States())
}

// fail maps a domain error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var pe *paramError
	switch {
	case errors.As(err, &pe):
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, registry.ErrUnknownJob),
		errors.Is(err, registry.ErrUnknownDimension),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, jenkins.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, syncer.ErrSyncInProgress):
		s.writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		s.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}

	if err != nil {
		s.logger.Error("API error", "status", status, "message", message, "error", err)
	}

	s.writeJSON(w, status, response)
}
