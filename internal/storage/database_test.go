package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// seedCapture writes content bytes to a fresh capture path and runs the
// capture through Register and MarkCompleted.
func seedCapture(t *testing.T, db *sql.DB, dir string, capturedAt int64, content string) (int64, string) {
	t.Helper()

	repo := NewCaptureRepo(db, dir)
	path, err := repo.NextCapturePath(time.Unix(capturedAt, 0))
	if err != nil {
		t.Fatalf("NextCapturePath() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	id, err := repo.Register(context.Background(), path, capturedAt)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := repo.MarkCompleted(context.Background(), path); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	return id, path
}

// seedBatch creates a pending batch anchored at start with one capture.
func seedBatch(t *testing.T, db *sql.DB, start time.Time) int64 {
	t.Helper()

	captureID, _ := seedCapture(t, db, t.TempDir(), start.Unix(), "png-bytes")
	batchID, err := NewBatchRepo(db).CreateBatch(
		context.Background(), start.Unix(), start.Add(15*time.Minute).Unix(), []int64{captureID},
	)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return batchID
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// A second run over an already-migrated database must be a no-op.
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	if _, err := db.Exec("INSERT INTO captures (captured_at, file_path) VALUES (1, '/tmp/a.png')"); err != nil {
		t.Errorf("insert after re-migrate error = %v", err)
	}
}

func TestMigrate_AddsColumnsToLegacyTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	// A table shaped like the pre-call_group_id schema.
	_, err = db.Exec(`CREATE TABLE llm_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER,
		attempt INTEGER NOT NULL DEFAULT 1,
		provider TEXT NOT NULL,
		model TEXT,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms INTEGER,
		http_status INTEGER,
		request_body TEXT,
		response_body TEXT,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		t.Fatalf("create legacy table error = %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := db.Exec(
		"INSERT INTO llm_calls (call_group_id, provider, operation, status) VALUES ('g1', 'openai', 'analyze', 'success')",
	); err != nil {
		t.Errorf("insert with migrated column error = %v", err)
	}
}

func TestIntegrityCheck(t *testing.T) {
	db := newTestDB(t)

	if err := IntegrityCheck(db); err != nil {
		t.Errorf("IntegrityCheck() error = %v", err)
	}
}

func TestNewWithRecovery_NormalOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, outcome, err := NewWithRecovery(filepath.Join(tmpDir, "test.db"), filepath.Join(tmpDir, "backups"))
	if err != nil {
		t.Fatalf("NewWithRecovery() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if outcome != RecoveryNone {
		t.Errorf("NewWithRecovery() outcome = %v, want %v", outcome, RecoveryNone)
	}
}

func TestNewWithRecovery_RestoresBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	backupDir := filepath.Join(tmpDir, "backups")

	db, _, err := NewWithRecovery(dbPath, backupDir)
	if err != nil {
		t.Fatalf("NewWithRecovery() error = %v", err)
	}

	seedCapture(t, db, tmpDir, time.Now().Unix(), "marker")

	durability := NewDurability(db, DurabilityOptions{BackupDir: backupDir, BackupRetain: 3})
	if _, err := durability.Backup(context.Background()); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := os.WriteFile(dbPath, []byte(strings.Repeat("not a database ", 64)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	restored, outcome, err := NewWithRecovery(dbPath, backupDir)
	if err != nil {
		t.Fatalf("NewWithRecovery() after corruption error = %v", err)
	}
	defer func() {
		_ = restored.Close()
	}()

	if outcome != RecoveryRestoredBackup {
		t.Errorf("NewWithRecovery() outcome = %v, want %v", outcome, RecoveryRestoredBackup)
	}

	count, err := NewCaptureRepo(restored, tmpDir).ActiveCount(context.Background())
	if err != nil {
		t.Fatalf("ActiveCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("restored capture count = %d, want 1", count)
	}
}

func TestNewWithRecovery_FreshDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	if err := os.WriteFile(dbPath, []byte(strings.Repeat("not a database ", 64)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// No backups exist, so the corrupt primary is replaced empty.
	db, outcome, err := NewWithRecovery(dbPath, filepath.Join(tmpDir, "backups"))
	if err != nil {
		t.Fatalf("NewWithRecovery() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if outcome != RecoveryFreshDatabase {
		t.Errorf("NewWithRecovery() outcome = %v, want %v", outcome, RecoveryFreshDatabase)
	}

	count, err := NewCaptureRepo(db, tmpDir).ActiveCount(context.Background())
	if err != nil {
		t.Fatalf("ActiveCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("fresh database capture count = %d, want 0", count)
	}
}
