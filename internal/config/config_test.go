package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trellis.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Extension != ".md" {
		t.Errorf("extension = %q, want .md", cfg.Sync.Extension)
	}
	if cfg.Sync.PullIntervalDuration != 30*time.Second {
		t.Errorf("pull interval = %v, want 30s", cfg.Sync.PullIntervalDuration)
	}
	if cfg.Serve.Port != 8424 {
		t.Errorf("port = %d, want 8424", cfg.Serve.Port)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
project:
  id: vault-1
  name: My Vault
sync:
  extension: markdown
  pull_interval: 1m
  debounce: 50ms
system:
  db_path: /tmp/t/trellis.db
  log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project.ID != "vault-1" {
		t.Errorf("project id = %q", cfg.Project.ID)
	}
	if cfg.Sync.Extension != ".markdown" {
		t.Errorf("extension = %q, want leading dot added", cfg.Sync.Extension)
	}
	if cfg.Sync.PullIntervalDuration != time.Minute {
		t.Errorf("pull interval = %v, want 1m", cfg.Sync.PullIntervalDuration)
	}
	if cfg.Sync.DebounceDuration != 50*time.Millisecond {
		t.Errorf("debounce = %v, want 50ms", cfg.Sync.DebounceDuration)
	}
	// Unset keys keep defaults.
	if cfg.Sync.PollIntervalDuration != time.Second {
		t.Errorf("poll interval = %v, want default 1s", cfg.Sync.PollIntervalDuration)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
project:
  id: p
sync:
  pull_interval: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestLoadRejectsEmptyProjectID(t *testing.T) {
	path := writeConfig(t, `
project:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Fatal("empty project id accepted")
	}
}
