package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn message in output, got %s", buf.String())
	}
}

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		key          string
		shouldRedact bool
	}{
		{"token", true},
		{"JENKINS_TOKEN", true},
		{"api_token", true},
		{"client_secret", true},
		{"redis_password", true},
		{"dsn", true},
		{"POSTGRES_DSN", true},
		{"job_id", false},
		{"build", false},
		{"tokens_used", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, "info")
			logger.Info("msg", tt.key, "s3cr3t")

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log line: %v", err)
			}

			got := entry[tt.key]
			if tt.shouldRedact && got != redacted {
				t.Errorf("%s = %v, want redacted", tt.key, got)
			}
			if !tt.shouldRedact && got != "s3cr3t" {
				t.Errorf("%s = %v, want original value", tt.key, got)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildwatch.log")

	logger, err := NewFromConfig("text", "debug", path)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	logger.Debug("hello", "job_id", "api-image")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "job_id=api-image") {
		t.Errorf("expected text formatted attribute, got %s", data)
	}
}

func TestNewFromConfig_BadPath(t *testing.T) {
	_, err := NewFromConfig("json", "info", filepath.Join(t.TempDir(), "missing", "x.log"))
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")

	ctx := WithContext(context.Background(), logger)
	FromContext(ctx).Info("from context")

	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("logger from context did not write to buffer")
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without logger returned nil")
	}
}

func TestForRun(t *testing.T) {
	var buf bytes.Buffer
	ForRun(NewWithWriter(&buf, "info"), "api-image", "run-1", "refresh").Info("batch done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	for key, want := range map[string]string{"job_id": "api-image", "run_id": "run-1", "mode": "refresh"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}
