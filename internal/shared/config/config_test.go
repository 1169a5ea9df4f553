package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("POLL_MAX_ATTEMPTS", "")
	t.Setenv("MAX_CAPTURE_BODY_BYTES", "")
	t.Setenv("CAPTURE_VISIBILITY_TIMEOUT_SECONDS", "")

	cfg := Load()
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Fatalf("expected 60 attempts, got %d", cfg.PollMaxAttempts)
	}
	if cfg.MaxCaptureBodyBytes != 50<<20 {
		t.Fatalf("expected 50MiB body limit, got %d", cfg.MaxCaptureBodyBytes)
	}
	if cfg.CaptureVisibility != time.Minute {
		t.Fatalf("expected 60s visibility timeout, got %s", cfg.CaptureVisibility)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breva.yaml")
	body := []byte("poll_interval: 2s\npoll_max_attempts: 10\nobject_store: minio\ncors_allow_origins:\n  - http://a.test\n  - http://b.test\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("POLL_MAX_ATTEMPTS", "12")
	t.Setenv("OBJECT_STORE", "")
	t.Setenv("CORS_ALLOW_ORIGINS", "")

	cfg := Load()
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected file poll interval 2s, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 12 {
		t.Fatalf("expected env override 12, got %d", cfg.PollMaxAttempts)
	}
	if cfg.ObjectStoreType != "minio" {
		t.Fatalf("expected minio store, got %q", cfg.ObjectStoreType)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowOrigin)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "soon")

	cfg := Load()
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s", cfg.PollInterval)
	}
}
