package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
jenkins:
  url: https://ci.example.com/
  user: ci-bot
jobs:
  - id: api-image
    path: /job/platform/job/api-image/
    kind: container-image
`

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError string
		validate  func(*testing.T, *Config)
	}{
		{
			name: "defaults applied",
			yaml: minimalYAML,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Jenkins.URL != "https://ci.example.com" {
					t.Errorf("expected trailing slash trimmed, got %s", cfg.Jenkins.URL)
				}
				if cfg.Jenkins.MetadataTimeoutSec != 10 || cfg.Jenkins.LogTimeoutSec != 30 {
					t.Errorf("unexpected timeouts %d/%d", cfg.Jenkins.MetadataTimeoutSec, cfg.Jenkins.LogTimeoutSec)
				}
				if cfg.Store.Driver != "bbolt" || cfg.Store.Path != "./.buildwatch.db" {
					t.Errorf("unexpected store defaults %+v", cfg.Store)
				}
				if cfg.Sync.Schedule != "every 5m" {
					t.Errorf("expected default schedule, got %s", cfg.Sync.Schedule)
				}
				if cfg.Sync.RefreshWindow != 100 || cfg.Sync.RefreshBatchSize != 20 {
					t.Errorf("unexpected refresh defaults %+v", cfg.Sync)
				}
				if cfg.Sync.BackfillBatchSize != 10 || cfg.Sync.BackfillPauseMs != 200 {
					t.Errorf("unexpected backfill defaults %+v", cfg.Sync)
				}
				if cfg.Sync.Lock.Driver != "memory" {
					t.Errorf("expected memory lock, got %s", cfg.Sync.Lock.Driver)
				}
				if cfg.Analytics.AttributionWindow != 100 {
					t.Errorf("expected attribution window 100, got %d", cfg.Analytics.AttributionWindow)
				}
				if len(cfg.Kinds) != 2 {
					t.Errorf("expected built-in kinds, got %d", len(cfg.Kinds))
				}
				job := cfg.Jobs[0]
				if job.Name != "api-image" {
					t.Errorf("expected name to default to id, got %s", job.Name)
				}
				if job.Path != "job/platform/job/api-image" {
					t.Errorf("expected path trimmed, got %s", job.Path)
				}
			},
		},
		{
			name: "custom kinds",
			yaml: `
jenkins:
  url: http://jenkins:8080
kinds:
  service:
    dimensions: [ENV]
jobs:
  - id: billing
    name: Billing service
    path: job/billing
    kind: service
`,
			validate: func(t *testing.T, cfg *Config) {
				if got := cfg.Kinds[KindService].Dimensions; len(got) != 1 || got[0] != "ENV" {
					t.Errorf("unexpected dimensions %v", got)
				}
				if _, ok := cfg.Kinds[KindContainerImage]; ok {
					t.Error("built-in kinds should not be merged into explicit kinds")
				}
			},
		},
		{
			name: "postgres store",
			yaml: `
jenkins:
  url: http://jenkins
store:
  driver: postgres
  dsn: postgres://localhost/buildwatch
jobs:
  - id: a
    path: job/a
    kind: service
`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Store.Path != "" {
					t.Errorf("postgres store should not get a bbolt path, got %s", cfg.Store.Path)
				}
			},
		},
		{
			name:      "missing jenkins url",
			yaml:      "jobs:\n  - id: a\n    path: job/a\n    kind: service\n",
			wantError: "jenkins.url is required",
		},
		{
			name:      "no jobs",
			yaml:      "jenkins:\n  url: http://jenkins\n",
			wantError: "no jobs defined",
		},
		{
			name: "duplicate job",
			yaml: `
jenkins:
  url: http://jenkins
jobs:
  - {id: a, path: job/a, kind: service}
  - {id: a, path: job/b, kind: service}
`,
			wantError: "duplicate job ID: a",
		},
		{
			name: "unknown kind on job",
			yaml: `
jenkins:
  url: http://jenkins
jobs:
  - {id: a, path: job/a, kind: library}
`,
			wantError: `unknown kind "library"`,
		},
		{
			name: "unknown kind declared",
			yaml: `
jenkins:
  url: http://jenkins
kinds:
  library:
    dimensions: [X]
jobs:
  - {id: a, path: job/a, kind: library}
`,
			wantError: `unknown kind "library"`,
		},
		{
			name: "kind without dimensions",
			yaml: `
jenkins:
  url: http://jenkins
kinds:
  service: {}
jobs:
  - {id: a, path: job/a, kind: service}
`,
			wantError: "declares no dimensions",
		},
		{
			name: "missing path",
			yaml: `
jenkins:
  url: http://jenkins
jobs:
  - {id: a, kind: service}
`,
			wantError: "missing a path",
		},
		{
			name: "bad schedule",
			yaml: `
jenkins:
  url: http://jenkins
sync:
  schedule: "every now and then"
jobs:
  - {id: a, path: job/a, kind: service}
`,
			wantError: "sync.schedule",
		},
		{
			name: "postgres without dsn",
			yaml: `
jenkins:
  url: http://jenkins
store:
  driver: postgres
jobs:
  - {id: a, path: job/a, kind: service}
`,
			wantError: "store.dsn",
		},
		{
			name: "bad lock driver",
			yaml: `
jenkins:
  url: http://jenkins
sync:
  lock:
    driver: etcd
jobs:
  - {id: a, path: job/a, kind: service}
`,
			wantError: "invalid sync.lock.driver",
		},
		{
			name:      "invalid yaml",
			yaml:      "jenkins: [",
			wantError: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvJenkinsToken, "")
			t.Setenv(EnvPostgresDSN, "")

			path := filepath.Join(t.TempDir(), "buildwatch.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			cfg, err := LoadConfig(path)
			if tt.wantError != "" {
				if err == nil {
					t.Fatalf("LoadConfig() expected error containing %q", tt.wantError)
				}
				if !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("LoadConfig() error = %v, want substring %q", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvJenkinsToken, "from-env")
	t.Setenv(EnvPostgresDSN, "postgres://env/db")

	cfg, err := Parse([]byte(`
jenkins:
  url: http://jenkins
  token: from-file
store:
  driver: postgres
jobs:
  - {id: a, path: job/a, kind: service}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Jenkins.Token != "from-env" {
		t.Errorf("token = %s, want from-env", cfg.Jenkins.Token)
	}
	if cfg.Store.DSN != "postgres://env/db" {
		t.Errorf("dsn = %s, want postgres://env/db", cfg.Store.DSN)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("LoadConfig() error = %v", err)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"every 5m", false},
		{"every 2 hours", false},
		{"EVERY 30s", false},
		{"@every 90s", false},
		{"@hourly", false},
		{"*/5 * * * *", false},
		{"0 */5 * * * *", false},
		{"", true},
		{"every", true},
		{"every five minutes", true},
		{"@sometimes", true},
		{"* * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}
