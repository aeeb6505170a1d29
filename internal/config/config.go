package config

// Config represents the top-level buildwatch configuration.
type Config struct {
	Jenkins   Jenkins         `yaml:"jenkins"`
	Store     Store           `yaml:"store"`
	Sync      Sync            `yaml:"sync"`
	Analytics Analytics       `yaml:"analytics"`
	Server    Server          `yaml:"server"`
	Logging   Logging         `yaml:"logging"`
	Kinds     map[string]Kind `yaml:"kinds"`
	Jobs      []Job           `yaml:"jobs"`
}

// Jenkins holds the remote CI endpoint and its static credential.
type Jenkins struct {
	URL                string `yaml:"url"`
	User               string `yaml:"user"`
	Token              string `yaml:"token,omitempty"` // JENKINS_TOKEN overrides
	MetadataTimeoutSec int    `yaml:"metadata_timeout_sec"`
	LogTimeoutSec      int    `yaml:"log_timeout_sec"`
}

// Store selects the persistence driver.
type Store struct {
	Driver string `yaml:"driver"`        // "bbolt" or "postgres"
	Path   string `yaml:"path"`          // bbolt file
	DSN    string `yaml:"dsn,omitempty"` // postgres, POSTGRES_DSN overrides
}

// Sync tunes the backfill and refresh pipelines.
type Sync struct {
	Schedule          string `yaml:"schedule"`
	RefreshWindow     int    `yaml:"refresh_window"`
	RefreshBatchSize  int    `yaml:"refresh_batch_size"`
	BackfillBatchSize int    `yaml:"backfill_batch_size"`
	BackfillPauseMs   int    `yaml:"backfill_pause_ms"`
	Lock              Lock   `yaml:"lock"`
}

// Lock configures the per-job sync guard.
type Lock struct {
	Driver    string `yaml:"driver"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	TTLSec    int    `yaml:"ttl_sec"`
}

// Analytics holds defaults for the read-side statistics.
type Analytics struct {
	AttributionWindow  int `yaml:"attribution_window"`
	DailyDays          int `yaml:"daily_days"`
	DurationTrendLimit int `yaml:"duration_trend_limit"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `yaml:"addr"`
}

// Logging configures the process logger.
type Logging struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// Kind describes a class of jobs: which build parameters act as dimensions
// and how a release tag is derived.
type Kind struct {
	Dimensions []string `yaml:"dimensions"` // first entry is the primary dimension
	Tag        *TagRule `yaml:"tag,omitempty"`
}

// TagRule derives "<version>.<build>[-<target>]" from build parameters.
type TagRule struct {
	VersionParam  string `yaml:"version_param"`
	TargetParam   string `yaml:"target_param,omitempty"`
	DefaultTarget string `yaml:"default_target,omitempty"`
}

// Job is a single tracked CI job.
type Job struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	Path string `yaml:"path"` // remote path, e.g. job/platform/job/api-image
	Kind string `yaml:"kind"`
}

// Known job kinds. The set is closed.
const (
	KindContainerImage = "container-image"
	KindService        = "service"
)
