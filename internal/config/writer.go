package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveConfig writes a Config to a YAML file.
// The write is atomic: a temp file is written first and renamed over path.
// Secrets supplied through the environment are never written back.
func SaveConfig(cfg *Config, path string) error {
	check := *cfg
	applyEnv(&check)
	if err := validate(&check); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// loadForEdit reads a config file without pulling secrets from the
// environment, so that a later SaveConfig does not persist them.
func loadForEdit(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// AddJob appends a job to the catalog in an existing config file.
func AddJob(configPath string, job Job) error {
	cfg, err := loadForEdit(configPath)
	if err != nil {
		return fmt.Errorf("failed to load existing config: %w", err)
	}

	for _, existing := range cfg.Jobs {
		if existing.ID == job.ID {
			return fmt.Errorf("job with ID '%s' already exists", job.ID)
		}
	}

	cfg.Jobs = append(cfg.Jobs, job)
	applyDefaults(cfg)

	if err := SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// RemoveJob removes a job from the config file by ID. Stored builds of the
// job are left untouched.
func RemoveJob(configPath string, jobID string) error {
	cfg, err := loadForEdit(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	found := false
	newJobs := make([]Job, 0, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.ID == jobID {
			found = true
			continue
		}
		newJobs = append(newJobs, job)
	}

	if !found {
		return fmt.Errorf("job with ID '%s' not found", jobID)
	}

	cfg.Jobs = newJobs

	if err := SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}
