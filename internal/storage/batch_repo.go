package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_batch_coordinator.go -package=mocks timelens/internal/storage BatchCoordinator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// validTransitions is the batch lifecycle state machine. Rewinding to
// pending happens only through Reset.
var validTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchProcessing},
	BatchProcessing: {BatchAnalyzed, BatchFailed},
	BatchAnalyzed:   {BatchCompleted, BatchFailed},
	BatchCompleted:  {},
	BatchFailed:     {},
}

// resettableStatuses are the states Reset rewinds to pending.
var resettableStatuses = []BatchStatus{
	BatchProcessing, BatchAnalyzed, BatchCompleted, BatchFailed,
}

// BatchCoordinator groups captures into analysis batches and tracks
// their lifecycle.
type BatchCoordinator interface {
	// CreateBatch transactionally inserts the batch row and all of its
	// capture junction rows, or nothing at all. An empty captureIDs set
	// is an error.
	CreateBatch(ctx context.Context, startTs, endTs int64, captureIDs []int64) (int64, error)
	// GetBatch returns a batch by id, or ErrNotFound.
	GetBatch(ctx context.Context, id int64) (*AnalysisBatch, error)
	// SetStatus advances a batch through the lifecycle state machine;
	// invalid transitions return ErrInvalidTransition.
	SetStatus(ctx context.Context, id int64, status BatchStatus) error
	// MarkFailed moves a batch to failed with a reason, last write wins.
	MarkFailed(ctx context.Context, id int64, reason string) error
	// Reset rewinds resettable batches to pending, clearing reason and
	// llm_metadata, and returns the ids actually affected. Callers pair
	// it with DeleteForBatches on cards and observations to fully
	// rewind; the coordinator never cascades across stores itself.
	Reset(ctx context.Context, batchIDs []int64) ([]int64, error)
	// BatchIDsForDay returns the ids of batches whose start falls in
	// the given 4AM-boundary day.
	BatchIDsForDay(ctx context.Context, day string) ([]int64, error)
	// UpdateLLMMetadata records provider bookkeeping for a batch.
	UpdateLLMMetadata(ctx context.Context, id int64, metadata string) error
	// CaptureIDs returns the capture ids junctioned to a batch.
	CaptureIDs(ctx context.Context, batchID int64) ([]int64, error)
}

// BatchRepo provides methods for analysis batch operations.
// It implements the BatchCoordinator interface.
type BatchRepo struct {
	db *sql.DB
}

// NewBatchRepo creates a new BatchRepo.
func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// CreateBatch transactionally inserts the batch row and its junction
// rows. A partially-junctioned batch is a correctness bug, so any
// failure rolls the whole thing back.
func (r *BatchRepo) CreateBatch(ctx context.Context, startTs, endTs int64, captureIDs []int64) (int64, error) {
	if len(captureIDs) == 0 {
		return 0, fmt.Errorf("cannot create batch with no captures")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO analysis_batches (batch_start_ts, batch_end_ts, status) VALUES (?, ?, ?)",
		startTs, endTs, BatchPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get batch id: %w", err)
	}

	for _, captureID := range captureIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO batch_captures (batch_id, capture_id) VALUES (?, ?)",
			batchID, captureID,
		); err != nil {
			return 0, fmt.Errorf("failed to insert batch junction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return batchID, nil
}

// GetBatch returns a batch by id, or ErrNotFound.
func (r *BatchRepo) GetBatch(ctx context.Context, id int64) (*AnalysisBatch, error) {
	var (
		b         AnalysisBatch
		status    string
		reason    sql.NullString
		metadata  sql.NullString
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, batch_start_ts, batch_end_ts, status, reason, llm_metadata, created_at FROM analysis_batches WHERE id = ?",
		id,
	).Scan(&b.ID, &b.StartTs, &b.EndTs, &status, &reason, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	b.Status = BatchStatus(status)
	b.Reason = reason.String
	b.LLMMetadata = metadata.String
	b.CreatedAt = parseSQLiteTime(createdAt)
	return &b, nil
}

// SetStatus advances a batch through the lifecycle state machine.
func (r *BatchRepo) SetStatus(ctx context.Context, id int64, status BatchStatus) error {
	batch, err := r.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(batch.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, batch.Status, status)
	}
	_, err = r.db.ExecContext(ctx,
		"UPDATE analysis_batches SET status = ? WHERE id = ?",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set batch status: %w", err)
	}
	return nil
}

func transitionAllowed(from, to BatchStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MarkFailed moves a batch to failed with a reason. Last write wins.
func (r *BatchRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE analysis_batches SET status = ?, reason = ? WHERE id = ?",
		BatchFailed, reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark batch failed: %w", err)
	}
	return nil
}

// Reset rewinds resettable batches to pending with derived fields
// cleared, returning the ids actually affected. Calling it twice in a
// row is safe: the second call affects nothing.
func (r *BatchRepo) Reset(ctx context.Context, batchIDs []int64) ([]int64, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	idArgs, idPlaceholders := int64Args(batchIDs)
	statusArgs := make([]any, 0, len(resettableStatuses))
	statusPlaceholders := make([]string, 0, len(resettableStatuses))
	for _, s := range resettableStatuses {
		statusArgs = append(statusArgs, string(s))
		statusPlaceholders = append(statusPlaceholders, "?")
	}

	query := fmt.Sprintf(
		"SELECT id FROM analysis_batches WHERE id IN (%s) AND status IN (%s)",
		idPlaceholders, strings.Join(statusPlaceholders, ","),
	)
	rows, err := tx.QueryContext(ctx, query, append(idArgs, statusArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resettable batches: %w", err)
	}
	var affected []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan batch id: %w", err)
		}
		affected = append(affected, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	if len(affected) == 0 {
		return nil, tx.Commit()
	}

	args, placeholders := int64Args(affected)
	update := fmt.Sprintf(
		"UPDATE analysis_batches SET status = ?, reason = NULL, llm_metadata = NULL WHERE id IN (%s)",
		placeholders,
	)
	if _, err := tx.ExecContext(ctx, update, append([]any{BatchPending}, args...)...); err != nil {
		return nil, fmt.Errorf("failed to reset batches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return affected, nil
}

// BatchIDsForDay returns the ids of batches whose start timestamp falls
// within the given 4AM-boundary day.
func (r *BatchRepo) BatchIDsForDay(ctx context.Context, day string) ([]int64, error) {
	from, to, err := DayRange(day)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM analysis_batches WHERE batch_start_ts >= ? AND batch_start_ts < ? ORDER BY batch_start_ts",
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches for day: %w", err)
	}
	return scanInt64s(rows)
}

// UpdateLLMMetadata records provider bookkeeping for a batch.
func (r *BatchRepo) UpdateLLMMetadata(ctx context.Context, id int64, metadata string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE analysis_batches SET llm_metadata = ? WHERE id = ?",
		metadata, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch llm metadata: %w", err)
	}
	return nil
}

// CaptureIDs returns the capture ids junctioned to a batch.
func (r *BatchRepo) CaptureIDs(ctx context.Context, batchID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT capture_id FROM batch_captures WHERE batch_id = ?",
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch captures: %w", err)
	}
	return scanInt64s(rows)
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// int64Args builds the args slice and placeholder list for an IN clause.
func int64Args(ids []int64) ([]any, string) {
	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = "?"
	}
	return args, strings.Join(placeholders, ",")
}

// parseSQLiteTime parses the DATETIME formats SQLite emits.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
