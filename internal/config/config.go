// Package config loads the trellis YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the config file.
type Config struct {
	Project Project `yaml:"project"`
	Sync    Sync    `yaml:"sync"`
	Serve   Serve   `yaml:"serve"`
	System  System  `yaml:"system"`
}

// Project identifies the tracked project.
type Project struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Sync holds sync and watch tuning.
type Sync struct {
	// Extension is the tracked content extension (default ".md").
	Extension string `yaml:"extension"`
	// PullInterval is the daemon's periodic pull cadence.
	PullInterval string `yaml:"pull_interval"`
	// Debounce batches rapid file changes.
	Debounce string `yaml:"debounce"`
	// PollInterval drives the external adapter's change polling.
	PollInterval string `yaml:"poll_interval"`

	// Parsed durations, not serialized.
	PullIntervalDuration time.Duration `yaml:"-"`
	DebounceDuration     time.Duration `yaml:"-"`
	PollIntervalDuration time.Duration `yaml:"-"`
}

// Serve configures the dashboard server.
type Serve struct {
	Port int `yaml:"port"`
}

// System holds paths and logging.
type System struct {
	// DBPath is the durable SQLite database file.
	DBPath string `yaml:"db_path"`
	// HandleStorePath is the bbolt handle database file.
	HandleStorePath string `yaml:"handle_store_path"`
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".trellis")
	cfg := &Config{
		Project: Project{ID: "default", Name: "default"},
		Sync: Sync{
			Extension:    ".md",
			PullInterval: "30s",
			Debounce:     "200ms",
			PollInterval: "1s",
		},
		Serve:  Serve{Port: 8424},
		System: System{DBPath: filepath.Join(base, "trellis.db"), HandleStorePath: filepath.Join(base, "handles.db"), LogLevel: "info"},
	}
	// Defaults are well-formed.
	_ = cfg.finalize()
	return cfg
}

// Load reads and validates a config file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize fills blanks from defaults and parses durations.
func (c *Config) finalize() error {
	if c.Project.ID == "" {
		return fmt.Errorf("project.id cannot be empty")
	}
	if c.Sync.Extension == "" {
		c.Sync.Extension = ".md"
	}
	if c.Sync.Extension[0] != '.' {
		c.Sync.Extension = "." + c.Sync.Extension
	}

	var err error
	if c.Sync.PullIntervalDuration, err = parseDuration("sync.pull_interval", c.Sync.PullInterval, 30*time.Second); err != nil {
		return err
	}
	if c.Sync.DebounceDuration, err = parseDuration("sync.debounce", c.Sync.Debounce, 200*time.Millisecond); err != nil {
		return err
	}
	if c.Sync.PollIntervalDuration, err = parseDuration("sync.poll_interval", c.Sync.PollInterval, time.Second); err != nil {
		return err
	}
	return nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
