package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %q, got %q", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Rooms.HistoryLimit != 100 || cfg.Rooms.IdleTTL != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9000\"\nlog_level: debug\nrooms:\n  max_messages: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WIRESYNC_LOG_LEVEL", "warn")
	t.Setenv("WIRESYNC_ROOMS_SYNC_HISTORY", "5")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("file value not applied: %q", cfg.Addr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env should win over file, got %q", cfg.LogLevel)
	}
	if cfg.Rooms.MaxMessages != 50 || cfg.Rooms.SyncHistory != 5 {
		t.Fatalf("nested keys not applied: %+v", cfg.Rooms)
	}
	if cfg.Rooms.HistoryLimit != 100 {
		t.Fatalf("default lost for unset nested key: %+v", cfg.Rooms)
	}
}

func TestValidateRejectsBadRooms(t *testing.T) {
	cfg := Default()
	cfg.Rooms.HistoryLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestUpdateFromOverridesNonZero(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000", JWTSecret: "s3cret"})
	if cfg.Addr != ":7000" || !cfg.AuthEnabled() || cfg.LogLevel != "info" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
