package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	DBPath             string
	CaptureDir         string
	BackupDir          string
	APIPort            string
	LogLevel           slog.Level
	LogFormat          string // "text" or "json"
	StorageLimitBytes  int64  // 0 means unlimited
	RetentionInterval  time.Duration
	BackupInterval     time.Duration
	BackupRetain       int
	CheckpointInterval time.Duration
}

// Load reads configuration from environment variables and returns a
// Config struct. It applies defaults for optional fields and validates
// the rest. A .env file in the current directory or a parent is loaded
// automatically; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Walk up a few levels so the binary can run from a subdirectory.
	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		DBPath:     getEnv("DB_PATH", "./data/timelens.db"),
		CaptureDir: getEnv("CAPTURE_DIR", "./data/captures"),
		BackupDir:  getEnv("BACKUP_DIR", "./data/backups"),
		APIPort:    getEnv("API_PORT", "9010"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),
	}

	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	var err error
	if cfg.StorageLimitBytes, err = getEnvInt64("STORAGE_LIMIT_BYTES", 0); err != nil {
		return nil, err
	}
	if cfg.RetentionInterval, err = getEnvDuration("RETENTION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BackupInterval, err = getEnvDuration("BACKUP_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CheckpointInterval, err = getEnvDuration("CHECKPOINT_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	retainStr := getEnv("BACKUP_RETAIN", "3")
	retain, err := strconv.Atoi(retainStr)
	if err != nil || retain < 1 {
		return nil, fmt.Errorf("BACKUP_RETAIN must be a positive integer, got %q", retainStr)
	}
	cfg.BackupRetain = retain

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.CaptureDir, cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, value)
	}
	return d, nil
}
