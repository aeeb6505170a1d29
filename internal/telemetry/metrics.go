// Package telemetry exposes Prometheus metrics for the ingestion pipeline.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_remote_requests_total",
		Help: "Calls made to the CI server by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buildwatch_remote_request_duration_seconds",
		Help:    "Latency of calls to the CI server",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_sync_runs_total",
		Help: "Sync runs by mode and outcome (completed, failed, rejected)",
	}, []string{"mode", "outcome"})

	SyncBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_sync_builds_total",
		Help: "Builds processed by sync runs by mode and result",
	}, []string{"mode", "result"})

	SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buildwatch_sync_duration_seconds",
		Help:    "Wall time of sync runs",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"mode"})

	SyncsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "buildwatch_syncs_in_progress",
		Help: "Sync runs currently executing in this process",
	})

	ConsoleLogLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_console_log_lookups_total",
		Help: "Console log reads by source (cache, remote)",
	}, []string{"source"})
)

// Outcome labels shared by callers.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Build results for SyncBuilds.
const (
	ResultSynced      = "synced"
	ResultFetchFailed = "fetch_failed"
	ResultStoreFailed = "store_failed"
)

// ObserveRemote records one call to the CI server.
func ObserveRemote(endpoint string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	RemoteRequests.WithLabelValues(endpoint, outcome).Inc()
	RemoteLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RemoteRequests,
			RemoteLatency,
			SyncRuns,
			SyncBuilds,
			SyncDuration,
			SyncsInProgress,
			ConsoleLogLookups,
		)
	})
	return promhttp.Handler()
}
