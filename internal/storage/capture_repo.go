package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_capture_ledger.go -package=mocks timelens/internal/storage CaptureLedger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CaptureLedger records the lifecycle of raw captures on disk.
type CaptureLedger interface {
	// NextCapturePath reserves a stable on-disk path for a capture
	// taken at the given time. The path is the ledger key for the rest
	// of the capture's lifecycle.
	NextCapturePath(capturedAt time.Time) (string, error)
	// Register records a capture that was written to disk.
	Register(ctx context.Context, path string, capturedAt int64) (int64, error)
	// MarkCompleted records the final file size for a registered capture.
	MarkCompleted(ctx context.Context, path string) error
	// MarkFailed removes both the ledger row and the file. Failed
	// captures leave no trace.
	MarkFailed(ctx context.Context, path string) error
	// FetchUnbatched returns active captures at or after sinceTs that
	// belong to no batch, oldest first.
	FetchUnbatched(ctx context.Context, sinceTs int64, limit int) ([]Capture, error)
	// FetchInRange returns active captures with captured_at in [from, to).
	FetchInRange(ctx context.Context, from, to int64) ([]Capture, error)
	// OldestActive returns the oldest active captures, up to limit.
	OldestActive(ctx context.Context, limit int) ([]Capture, error)
	// SoftDelete marks a capture inactive without touching its file.
	SoftDelete(ctx context.Context, id int64) error
	// ActiveCount returns the number of active captures.
	ActiveCount(ctx context.Context) (int, error)
	// ActivePaths returns the file paths of all active captures.
	ActivePaths(ctx context.Context) (map[string]struct{}, error)
}

// CaptureRepo provides methods for capture ledger operations.
// It implements the CaptureLedger interface.
type CaptureRepo struct {
	db         *sql.DB
	captureDir string
}

// NewCaptureRepo creates a new CaptureRepo rooted at captureDir.
func NewCaptureRepo(db *sql.DB, captureDir string) *CaptureRepo {
	return &CaptureRepo{db: db, captureDir: captureDir}
}

// NextCapturePath reserves a stable on-disk path for a capture,
// bucketed by calendar date: <root>/2006-01-02/<uuid>.png.
func (r *CaptureRepo) NextCapturePath(capturedAt time.Time) (string, error) {
	dir := filepath.Join(r.captureDir, capturedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}
	return filepath.Join(dir, uuid.New().String()+".png"), nil
}

// Register records a capture that was written to disk.
func (r *CaptureRepo) Register(ctx context.Context, path string, capturedAt int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO captures (captured_at, file_path) VALUES (?, ?)",
		capturedAt, path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to register capture: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get capture id: %w", err)
	}
	return id, nil
}

// MarkCompleted stats the file and records its final size.
func (r *CaptureRepo) MarkCompleted(ctx context.Context, path string) error {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE captures SET file_size = ? WHERE file_path = ?",
		size, path,
	)
	if err != nil {
		return fmt.Errorf("failed to mark capture completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed removes the ledger row and deletes the file.
func (r *CaptureRepo) MarkFailed(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM captures WHERE file_path = ?", path); err != nil {
		return fmt.Errorf("failed to delete failed capture row: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete failed capture file: %w", err)
	}
	return nil
}

// FetchUnbatched returns active captures at or after sinceTs that are
// not junctioned to any batch, oldest first. Membership is enforced by
// this exclusion query, not a uniqueness constraint, so a reset batch's
// captures can be deliberately re-batched.
func (r *CaptureRepo) FetchUnbatched(ctx context.Context, sinceTs int64, limit int) ([]Capture, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.captured_at, c.file_path, c.file_size, c.is_deleted
		 FROM captures c
		 WHERE c.is_deleted = 0 AND c.captured_at >= ?
		   AND NOT EXISTS (SELECT 1 FROM batch_captures bc WHERE bc.capture_id = c.id)
		 ORDER BY c.captured_at ASC
		 LIMIT ?`,
		sinceTs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unbatched captures: %w", err)
	}
	return scanCaptures(rows)
}

// FetchInRange returns active captures with captured_at in [from, to).
func (r *CaptureRepo) FetchInRange(ctx context.Context, from, to int64) ([]Capture, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, captured_at, file_path, file_size, is_deleted
		 FROM captures
		 WHERE is_deleted = 0 AND captured_at >= ? AND captured_at < ?
		 ORDER BY captured_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures in range: %w", err)
	}
	return scanCaptures(rows)
}

// OldestActive returns the oldest active captures, up to limit. The
// retention enforcer uses this as its eviction page.
func (r *CaptureRepo) OldestActive(ctx context.Context, limit int) ([]Capture, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, captured_at, file_path, file_size, is_deleted
		 FROM captures
		 WHERE is_deleted = 0
		 ORDER BY captured_at ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest captures: %w", err)
	}
	return scanCaptures(rows)
}

// SoftDelete marks a capture inactive. The file stays on disk; the
// retention enforcer deletes it afterwards so a crash in between leaves
// only a harmless already-deleted row.
func (r *CaptureRepo) SoftDelete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE captures SET is_deleted = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete capture: %w", err)
	}
	return nil
}

// ActiveCount returns the number of active captures.
func (r *CaptureRepo) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures WHERE is_deleted = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

// ActivePaths returns the file paths of all active captures, used by
// the retention enforcer's straggler sweep.
func (r *CaptureRepo) ActivePaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT file_path FROM captures WHERE is_deleted = 0")
	if err != nil {
		return nil, fmt.Errorf("failed to query active capture paths: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan capture path: %w", err)
		}
		paths[p] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return paths, nil
}

func scanCaptures(rows *sql.Rows) ([]Capture, error) {
	defer func() {
		_ = rows.Close()
	}()

	var captures []Capture
	for rows.Next() {
		var c Capture
		if err := rows.Scan(&c.ID, &c.CapturedAt, &c.FilePath, &c.FileSize, &c.IsDeleted); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return captures, nil
}
