package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every configuration variable so a developer's shell
// cannot leak into the test, and points the data directories at a
// temporary location.
func clearEnv(t *testing.T) string {
	t.Helper()

	for _, key := range []string{
		"DB_PATH", "CAPTURE_DIR", "BACKUP_DIR", "API_PORT",
		"LOG_LEVEL", "LOG_FORMAT", "STORAGE_LIMIT_BYTES",
		"RETENTION_INTERVAL", "BACKUP_INTERVAL", "CHECKPOINT_INTERVAL",
		"BACKUP_RETAIN",
	} {
		t.Setenv(key, "")
	}

	tmpDir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(tmpDir, "data", "timelens.db"))
	t.Setenv("CAPTURE_DIR", filepath.Join(tmpDir, "captures"))
	t.Setenv("BACKUP_DIR", filepath.Join(tmpDir, "backups"))
	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIPort != "9010" {
		t.Errorf("APIPort = %q, want 9010", cfg.APIPort)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.StorageLimitBytes != 0 {
		t.Errorf("StorageLimitBytes = %d, want unlimited by default", cfg.StorageLimitBytes)
	}
	if cfg.RetentionInterval != time.Hour {
		t.Errorf("RetentionInterval = %v, want 1h", cfg.RetentionInterval)
	}
	if cfg.BackupInterval != 6*time.Hour {
		t.Errorf("BackupInterval = %v, want 6h", cfg.BackupInterval)
	}
	if cfg.CheckpointInterval != 15*time.Minute {
		t.Errorf("CheckpointInterval = %v, want 15m", cfg.CheckpointInterval)
	}
	if cfg.BackupRetain != 3 {
		t.Errorf("BackupRetain = %d, want 3", cfg.BackupRetain)
	}
}

func TestLoad_CreatesDirectories(t *testing.T) {
	tmpDir := clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.CaptureDir, cfg.BackupDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %q not created: %v", dir, err)
		}
	}
	if filepath.Dir(cfg.CaptureDir) != tmpDir {
		t.Errorf("CaptureDir = %q, want under %q", cfg.CaptureDir, tmpDir)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PORT", "8123")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("STORAGE_LIMIT_BYTES", "1073741824")
	t.Setenv("RETENTION_INTERVAL", "30m")
	t.Setenv("BACKUP_RETAIN", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIPort != "8123" {
		t.Errorf("APIPort = %q, want 8123", cfg.APIPort)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.StorageLimitBytes != 1<<30 {
		t.Errorf("StorageLimitBytes = %d, want 1 GiB", cfg.StorageLimitBytes)
	}
	if cfg.RetentionInterval != 30*time.Minute {
		t.Errorf("RetentionInterval = %v, want 30m", cfg.RetentionInterval)
	}
	if cfg.BackupRetain != 5 {
		t.Errorf("BackupRetain = %d, want 5", cfg.BackupRetain)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "negative storage limit", key: "STORAGE_LIMIT_BYTES", value: "-1"},
		{name: "non-numeric storage limit", key: "STORAGE_LIMIT_BYTES", value: "lots"},
		{name: "malformed retention interval", key: "RETENTION_INTERVAL", value: "soon"},
		{name: "negative backup interval", key: "BACKUP_INTERVAL", value: "-6h"},
		{name: "zero backup retain", key: "BACKUP_RETAIN", value: "0"},
		{name: "non-numeric backup retain", key: "BACKUP_RETAIN", value: "few"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q expected error", tt.key, tt.value)
			}
		})
	}
}
