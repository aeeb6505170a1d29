package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets kept out of the YAML file.
const (
	EnvJenkinsToken = "JENKINS_TOKEN"
	EnvPostgresDSN  = "POSTGRES_DSN"
)

var (
	everyPattern    = regexp.MustCompile(`^@every\s+\d+(ms|s|m|h)$`)
	intervalPattern = regexp.MustCompile(`(?i)^every\s+\d+\s*(s|sec|second|seconds|m|min|minute|minutes|h|hour|hours|d|day|days)$`)
)

// LoadConfig loads and validates a buildwatch configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvJenkinsToken); v != "" {
		cfg.Jenkins.Token = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Store.DSN = v
	}
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	cfg.Jenkins.URL = strings.TrimRight(cfg.Jenkins.URL, "/")
	if cfg.Jenkins.MetadataTimeoutSec == 0 {
		cfg.Jenkins.MetadataTimeoutSec = 10
	}
	if cfg.Jenkins.LogTimeoutSec == 0 {
		cfg.Jenkins.LogTimeoutSec = 30
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "bbolt"
	}
	if cfg.Store.Driver == "bbolt" && cfg.Store.Path == "" {
		cfg.Store.Path = "./.buildwatch.db"
	}

	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = "every 5m"
	}
	if cfg.Sync.RefreshWindow == 0 {
		cfg.Sync.RefreshWindow = 100
	}
	if cfg.Sync.RefreshBatchSize == 0 {
		cfg.Sync.RefreshBatchSize = 20
	}
	if cfg.Sync.BackfillBatchSize == 0 {
		cfg.Sync.BackfillBatchSize = 10
	}
	if cfg.Sync.BackfillPauseMs == 0 {
		cfg.Sync.BackfillPauseMs = 200
	}
	if cfg.Sync.Lock.Driver == "" {
		cfg.Sync.Lock.Driver = "memory"
	}
	if cfg.Sync.Lock.Driver == "redis" && cfg.Sync.Lock.RedisAddr == "" {
		cfg.Sync.Lock.RedisAddr = "localhost:6379"
	}
	if cfg.Sync.Lock.TTLSec == 0 {
		cfg.Sync.Lock.TTLSec = 6 * 60 * 60
	}

	if cfg.Analytics.AttributionWindow == 0 {
		cfg.Analytics.AttributionWindow = 100
	}
	if cfg.Analytics.DailyDays == 0 {
		cfg.Analytics.DailyDays = 30
	}
	if cfg.Analytics.DurationTrendLimit == 0 {
		cfg.Analytics.DurationTrendLimit = 50
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if len(cfg.Kinds) == 0 {
		cfg.Kinds = DefaultKinds()
	}

	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		if job.Name == "" {
			job.Name = job.ID
		}
		job.Path = strings.Trim(job.Path, "/")
	}
}

// DefaultKinds returns the built-in job kinds used when the config declares none.
func DefaultKinds() map[string]Kind {
	return map[string]Kind{
		KindContainerImage: {
			Dimensions: []string{"TRACK", "ARCH"},
			Tag: &TagRule{
				VersionParam:  "VERSION",
				TargetParam:   "ARCH",
				DefaultTarget: "amd64",
			},
		},
		KindService: {
			Dimensions: []string{"TRACK", "TARGET"},
		},
	}
}

// validate checks the configuration for errors and inconsistencies.
func validate(cfg *Config) error {
	if cfg.Jenkins.URL == "" {
		return fmt.Errorf("jenkins.url is required")
	}
	if !strings.HasPrefix(cfg.Jenkins.URL, "http://") && !strings.HasPrefix(cfg.Jenkins.URL, "https://") {
		return fmt.Errorf("jenkins.url must start with http:// or https://, got %s", cfg.Jenkins.URL)
	}
	if cfg.Jenkins.MetadataTimeoutSec < 0 || cfg.Jenkins.LogTimeoutSec < 0 {
		return fmt.Errorf("jenkins timeouts must be non-negative")
	}

	switch cfg.Store.Driver {
	case "bbolt":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the bbolt driver")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn (or %s) is required for the postgres driver", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be 'bbolt' or 'postgres')", cfg.Store.Driver)
	}

	if err := ValidateSchedule(cfg.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule: %w", err)
	}
	if cfg.Sync.RefreshWindow < 1 {
		return fmt.Errorf("sync.refresh_window must be positive")
	}
	if cfg.Sync.RefreshBatchSize < 1 || cfg.Sync.BackfillBatchSize < 1 {
		return fmt.Errorf("sync batch sizes must be positive")
	}
	if cfg.Sync.BackfillPauseMs < 0 {
		return fmt.Errorf("sync.backfill_pause_ms must be non-negative")
	}
	switch cfg.Sync.Lock.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid sync.lock.driver: %s (must be 'memory' or 'redis')", cfg.Sync.Lock.Driver)
	}

	if cfg.Analytics.AttributionWindow < 1 || cfg.Analytics.DailyDays < 1 || cfg.Analytics.DurationTrendLimit < 1 {
		return fmt.Errorf("analytics windows must be positive")
	}

	for name, kind := range cfg.Kinds {
		if name != KindContainerImage && name != KindService {
			return fmt.Errorf("unknown kind %q (must be %q or %q)", name, KindContainerImage, KindService)
		}
		if len(kind.Dimensions) == 0 {
			return fmt.Errorf("kind %s declares no dimensions", name)
		}
		seen := make(map[string]bool)
		for _, d := range kind.Dimensions {
			if d == "" {
				return fmt.Errorf("kind %s has an empty dimension name", name)
			}
			if seen[d] {
				return fmt.Errorf("kind %s repeats dimension %s", name, d)
			}
			seen[d] = true
		}
		if kind.Tag != nil && kind.Tag.VersionParam == "" {
			return fmt.Errorf("kind %s tag rule is missing version_param", name)
		}
	}

	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs defined in configuration")
	}

	jobIDs := make(map[string]bool)
	for i, job := range cfg.Jobs {
		if job.ID == "" {
			return fmt.Errorf("job at index %d is missing an ID", i)
		}
		if strings.ContainsAny(job.ID, "/ ") {
			return fmt.Errorf("job ID %q must not contain slashes or spaces", job.ID)
		}
		if jobIDs[job.ID] {
			return fmt.Errorf("duplicate job ID: %s", job.ID)
		}
		jobIDs[job.ID] = true

		if job.Path == "" {
			return fmt.Errorf("job %s is missing a path", job.ID)
		}
		if _, ok := cfg.Kinds[job.Kind]; !ok {
			return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
		}
	}

	return nil
}

// ValidateSchedule checks a sync schedule expression. It accepts the
// @-descriptors, "@every <duration>", "every <n><unit>" and 5 or 6 field
// cron expressions. robfig/cron does the full parse at startup.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(schedule), "every ") {
		if intervalPattern.MatchString(schedule) {
			return nil
		}
		return fmt.Errorf("invalid interval: %s (must be like 'every 5m')", schedule)
	}

	if strings.HasPrefix(schedule, "@") {
		switch schedule {
		case "@annually", "@yearly", "@monthly", "@weekly", "@daily", "@midnight", "@hourly":
			return nil
		}
		if everyPattern.MatchString(schedule) {
			return nil
		}
		return fmt.Errorf("unknown schedule shortcut: %s", schedule)
	}

	fields := strings.Fields(schedule)
	if len(fields) < 5 || len(fields) > 6 {
		return fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}

	return nil
}
