package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a batch status change
	// violates the batch lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid batch status transition")
)

// RecoveryOutcome reports which step of the startup recovery chain
// produced the open database.
type RecoveryOutcome int

const (
	// RecoveryNone means the primary database opened normally.
	RecoveryNone RecoveryOutcome = iota
	// RecoveryRestoredBackup means the primary was corrupt and the most
	// recent backup snapshot was copied into place.
	RecoveryRestoredBackup
	// RecoveryFreshDatabase means no backup could be restored and a new
	// empty database was created. Prior data is lost.
	RecoveryFreshDatabase
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoveryRestoredBackup:
		return "restored-backup"
	case RecoveryFreshDatabase:
		return "fresh-database"
	default:
		return "none"
	}
}

// New opens the SQLite database at the given path. It enables WAL
// journaling and foreign keys, sets a bounded busy timeout so lock
// contention fails rather than hangs, and verifies the connection.
func New(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Single writer; readers share it through WAL.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// NewWithRecovery opens the database with the three-step recovery
// chain: normal open, restore from the newest backup snapshot, and
// finally a fresh empty database. Each fallback is logged loudly; only
// total failure returns an error.
func NewWithRecovery(path, backupDir string) (*sql.DB, RecoveryOutcome, error) {
	db, err := openAndMigrate(path)
	if err == nil {
		return db, RecoveryNone, nil
	}
	slog.Error("primary database failed to open", "path", path, "error", err)

	if backup := newestBackup(backupDir); backup != "" {
		removeDatabaseFiles(path)
		if copyErr := copyFile(backup, path); copyErr != nil {
			slog.Error("backup restore copy failed", "backup", backup, "error", copyErr)
		} else if db, err = openAndMigrate(path); err == nil {
			slog.Warn("database restored from backup", "backup", backup)
			return db, RecoveryRestoredBackup, nil
		} else {
			slog.Error("restored backup failed to open", "backup", backup, "error", err)
		}
	}

	removeDatabaseFiles(path)
	db, err = openAndMigrate(path)
	if err != nil {
		return nil, RecoveryFreshDatabase, fmt.Errorf("failed to create fresh database: %w", err)
	}
	slog.Error("database recreated empty, prior data lost", "path", path)
	return db, RecoveryFreshDatabase, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// IntegrityCheck runs a lightweight integrity check. Failures are
// reported to the caller, which should log them; they are not fatal.
func IntegrityCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// newestBackup returns the path of the most recent backup snapshot in
// dir, or "" when none exists.
func newestBackup(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	// Names embed a sortable timestamp.
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// removeDatabaseFiles deletes the primary database plus its WAL and
// shared-memory sidecars.
func removeDatabaseFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove database file", "path", p, "error", err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
