package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caevv/buildwatch/internal/analytics"
	"github.com/caevv/buildwatch/internal/config"
	"github.com/caevv/buildwatch/internal/jenkins"
	"github.com/caevv/buildwatch/internal/logging"
	"github.com/caevv/buildwatch/internal/query"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/syncer"
)

type fakeConsole struct{}

func (fakeConsole) ConsoleText(ctx context.Context, path string, number int) (string, error) {
	if number == 404 {
		return "", fmt.Errorf("console %d: %w", number, jenkins.ErrNotFound)
	}
	return fmt.Sprintf("log of %s #%d\n", path, number), nil
}

type fakeSyncer struct {
	startErr   error
	refreshErr error
	refreshed  []string
}

func (f *fakeSyncer) StartBackfill(ctx context.Context, jobID string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "run-1", nil
}

func (f *fakeSyncer) Refresh(ctx context.Context, jobID string) (*syncer.Result, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.refreshed = append(f.refreshed, jobID)
	return &syncer.Result{RunID: "run-2", JobID: jobID, Mode: syncer.ModeRefresh, From: 1, To: 3, Total: 3, Fetched: 3}, nil
}

func (f *fakeSyncer) State(jobID string) (syncer.State, error) {
	if jobID != "api" {
		return syncer.State{}, registry.ErrUnknownJob
	}
	return syncer.State{JobID: jobID, Running: true, Mode: syncer.ModeBackfill, Total: 10, Done: 4}, nil
}

func (f *fakeSyncer) States() []syncer.State {
	st, _ := f.State("api")
	return []syncer.State{st}
}

func newTestServer(t *testing.T, sy *fakeSyncer) *httptest.Server {
	t.Helper()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(&config.Config{
		Kinds: config.DefaultKinds(),
		Jobs: []config.Job{
			{ID: "api", Name: "API image", Path: "job/api", Kind: config.KindContainerImage},
		},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	statuses := []store.Status{store.StatusSuccess, store.StatusSuccess, store.StatusFailure, store.StatusFailure}
	for i, status := range statuses {
		d := int64((i + 1) * 1000)
		b := &store.Build{
			JobID:      "api",
			Number:     i + 1,
			Status:     status,
			DurationMs: &d,
			StartedAt:  time.Now().UTC().Add(-time.Duration(len(statuses)-i) * time.Hour),
			Parameters: []store.Parameter{
				{Name: "TRACK", Value: "main"},
				{Name: "ARCH", Value: "amd64"},
			},
		}
		if err := st.Upsert(context.Background(), b); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	logger := logging.Discard()
	srv := New(Options{
		Version: "test",
		Builds:  query.New(reg, st, fakeConsole{}, logger),
		Stats:   analytics.New(st, reg, analytics.Options{}),
		Syncer:  sy,
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp.StatusCode, body
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body = %s", err, body)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	code, body := doRequest(t, http.MethodGet, ts.URL+"/api/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var health HealthResponse
	decode(t, body, &health)
	if health.Status != "ok" || health.Version != "test" || health.Jobs != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestServer_Jobs(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	code, body := doRequest(t, http.MethodGet, ts.URL+"/api/jobs")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var jobs []JobSummary
	decode(t, body, &jobs)
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].ID != "api" || jobs[0].Kind != config.KindContainerImage || !jobs[0].Sync.Running {
		t.Errorf("jobs[0] = %+v", jobs[0])
	}

	code, _ = doRequest(t, http.MethodGet, ts.URL+"/api/jobs/nope")
	if code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", code)
	}
}

func TestServer_ListBuilds(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int
		wantFirst int
	}{
		{name: "all newest first", query: "", wantCode: 200, wantTotal: 4, wantFirst: 4},
		{name: "status list", query: "?status=failure,ABORTED", wantCode: 200, wantTotal: 2, wantFirst: 4},
		{name: "dimension", query: "?dim.TRACK=main&status=SUCCESS", wantCode: 200, wantTotal: 2, wantFirst: 2},
		{name: "dimension miss", query: "?dim.TRACK=beta", wantCode: 200, wantTotal: 0},
		{name: "paged", query: "?page=2&page_size=3", wantCode: 200, wantTotal: 4, wantFirst: 1},
		{name: "bad status", query: "?status=GREEN", wantCode: 400},
		{name: "bad page", query: "?page=zero", wantCode: 400},
		{name: "page size over max", query: "?page_size=5000", wantCode: 400},
		{name: "unknown dimension", query: "?dim.COLOR=red", wantCode: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, http.MethodGet, ts.URL+"/api/jobs/api/builds"+tt.query)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", code, tt.wantCode, body)
			}
			if code != http.StatusOK {
				var e ErrorResponse
				decode(t, body, &e)
				if e.Code != tt.wantCode || e.Message == "" {
					t.Errorf("error body = %+v", e)
				}
				return
			}
			var page query.Page
			decode(t, body, &page)
			if page.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", page.Total, tt.wantTotal)
			}
			if tt.wantTotal > 0 && page.Builds[0].Number != tt.wantFirst {
				t.Errorf("first build = %d, want %d", page.Builds[0].Number, tt.wantFirst)
			}
			if page.Builds == nil {
				t.Error("Builds should encode as an empty list, not null")
			}
		})
	}
}

func TestServer_GetBuild(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	code, body := doRequest(t, http.MethodGet, ts.URL+"/api/jobs/api/builds/2")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var b store.Build
	decode(t, body, &b)
	if b.Number != 2 || b.Status != store.StatusSuccess {
		t.Errorf("build = %+v", b)
	}

	for path, want := range map[string]int{
		"/api/jobs/api/builds/99": http.StatusNotFound,
		"/api/jobs/api/builds/x":  http.StatusBadRequest,
		"/api/jobs/api/builds/0":  http.StatusBadRequest,
		"/api/jobs/nope/builds/1": http.StatusNotFound,
	} {
		if code, _ := doRequest(t, http.MethodGet, ts.URL+path); code != want {
			t.Errorf("GET %s status = %d, want %d", path, code, want)
		}
	}
}

func TestServer_ConsoleLog(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	resp, err := http.Get(ts.URL + "/api/jobs/api/builds/1/console")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if string(body) != "log of job/api #1\n" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_Stats(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	code, body := doRequest(t, http.MethodGet, ts.URL+"/api/stats?job=api")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", code, body)
	}
	var overall analytics.OverallStats
	decode(t, body, &overall)
	if overall.Total != 4 || overall.Success != 2 || overall.Failure != 2 {
		t.Errorf("overall = %+v", overall)
	}

	code, body = doRequest(t, http.MethodGet, ts.URL+"/api/stats/daily?job=api&days=3")
	if code != http.StatusOK {
		t.Fatalf("daily status = %d, body = %s", code, body)
	}
	var daily []analytics.DailyStats
	decode(t, body, &daily)
	if len(daily) != 3 {
		t.Errorf("len(daily) = %d, want 3", len(daily))
	}

	code, body = doRequest(t, http.MethodGet, ts.URL+"/api/stats/duration?job=api&limit=2")
	if code != http.StatusOK {
		t.Fatalf("duration status = %d, body = %s", code, body)
	}
	var points []analytics.DurationPoint
	decode(t, body, &points)
	if len(points) != 2 {
		t.Errorf("len(points) = %d, want 2", len(points))
	}

	code, body = doRequest(t, http.MethodGet, ts.URL+"/api/jobs/api/stats/dimensions")
	if code != http.StatusOK {
		t.Fatalf("dimensions status = %d, body = %s", code, body)
	}
	var dims []analytics.DimensionStats
	decode(t, body, &dims)
	if len(dims) == 0 {
		t.Error("expected dimension stats")
	}

	code, body = doRequest(t, http.MethodGet, ts.URL+"/api/jobs/api/status")
	if code != http.StatusOK {
		t.Fatalf("status endpoint = %d, body = %s", code, body)
	}
	var status []analytics.DimensionStatus
	decode(t, body, &status)
	if len(status) != 1 || status[0].Value != "main" {
		t.Fatalf("status = %+v", status)
	}
	if status[0].Kind != analytics.AttributionRegression || status[0].BrokenBy == nil || status[0].BrokenBy.Number != 3 {
		t.Errorf("attribution = %+v", status[0].Attribution)
	}
}

func TestServer_StatsBadParams(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	tests := []struct {
		path string
		want int
	}{
		{"/api/stats?since=yesterday", http.StatusBadRequest},
		{"/api/stats?since=2024-03-10&until=2024-03-01", http.StatusBadRequest},
		{"/api/stats?since=2024-03-01T00:00:00Z", http.StatusOK},
		{"/api/stats?job=api&dimension=TRACK", http.StatusBadRequest},
		{"/api/stats?dimension=TRACK&value=main", http.StatusBadRequest},
		{"/api/stats?job=api&dimension=COLOR&value=red", http.StatusNotFound},
		{"/api/stats?job=nope", http.StatusNotFound},
		{"/api/stats/daily?days=-1", http.StatusBadRequest},
		{"/api/stats/duration?limit=abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if code, body := doRequest(t, http.MethodGet, ts.URL+tt.path); code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", code, tt.want, body)
			}
		})
	}
}

func TestServer_Sync(t *testing.T) {
	sy := &fakeSyncer{}
	ts := newTestServer(t, sy)

	code, body := doRequest(t, http.MethodPost, ts.URL+"/api/jobs/api/sync/backfill")
	if code != http.StatusAccepted {
		t.Fatalf("backfill status = %d, want 202", code)
	}
	var ack BackfillResponse
	decode(t, body, &ack)
	if ack.JobID != "api" || ack.RunID != "run-1" {
		t.Errorf("ack = %+v", ack)
	}

	code, body = doRequest(t, http.MethodPost, ts.URL+"/api/jobs/api/sync/refresh")
	if code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", code)
	}
	var res syncer.Result
	decode(t, body, &res)
	if res.Fetched != 3 || len(sy.refreshed) != 1 {
		t.Errorf("result = %+v, refreshed = %v", res, sy.refreshed)
	}

	code, body = doRequest(t, http.MethodGet, ts.URL+"/api/sync")
	if code != http.StatusOK {
		t.Fatalf("sync states status = %d", code)
	}
	var states []syncer.State
	decode(t, body, &states)
	if len(states) != 1 || states[0].Done != 4 {
		t.Errorf("states = %+v", states)
	}

	if code, _ := doRequest(t, http.MethodGet, ts.URL+"/api/jobs/api/sync/backfill"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET backfill status = %d, want 405", code)
	}
}

func TestServer_SyncErrors(t *testing.T) {
	tests := []struct {
		name string
		sy   *fakeSyncer
		want int
	}{
		{
			name: "in progress",
			sy:   &fakeSyncer{startErr: fmt.Errorf("%w: api", syncer.ErrSyncInProgress)},
			want: http.StatusConflict,
		},
		{
			name: "unknown job",
			sy:   &fakeSyncer{startErr: fmt.Errorf("%w: nope", registry.ErrUnknownJob)},
			want: http.StatusNotFound,
		},
		{
			name: "remote failure",
			sy:   &fakeSyncer{startErr: fmt.Errorf("resolve latest build: %w", jenkins.ErrUnauthorized)},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.sy)
			code, body := doRequest(t, http.MethodPost, ts.URL+"/api/jobs/api/sync/backfill")
			if code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", code, tt.want, body)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, &fakeSyncer{})

	code, body := doRequest(t, http.MethodGet, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !strings.Contains(string(body), "go_goroutines") && !strings.Contains(string(body), "buildwatch_") {
		t.Errorf("metrics body missing expected series")
	}
}
