package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ObservationStore persists raw per-batch AI transcription outputs.
type ObservationStore interface {
	// Save batch-inserts observations for a batch.
	Save(ctx context.Context, batchID int64, observations []Observation) error
	// FetchForBatch returns a batch's observations sorted by start_ts.
	FetchForBatch(ctx context.Context, batchID int64) ([]Observation, error)
	// FetchRange returns observations whose interval overlaps [from, to).
	FetchRange(ctx context.Context, from, to int64) ([]Observation, error)
	// DeleteForBatches removes all observations for the given batches.
	DeleteForBatches(ctx context.Context, batchIDs []int64) error
}

// ObservationRepo provides methods for observation operations.
// It implements the ObservationStore interface.
type ObservationRepo struct {
	db *sql.DB
}

// NewObservationRepo creates a new ObservationRepo.
func NewObservationRepo(db *sql.DB) *ObservationRepo {
	return &ObservationRepo{db: db}
}

// Save batch-inserts observations for a batch in one transaction.
func (r *ObservationRepo) Save(ctx context.Context, batchID int64, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin observation transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, o := range observations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO observations (batch_id, start_ts, end_ts, observation, metadata, llm_model)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			batchID, o.StartTs, o.EndTs, o.Observation, nullableString(o.Metadata), nullableString(o.LLMModel),
		); err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}

// FetchForBatch returns a batch's observations sorted by start_ts.
func (r *ObservationRepo) FetchForBatch(ctx context.Context, batchID int64) ([]Observation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, batch_id, start_ts, end_ts, observation, metadata, llm_model, created_at
		 FROM observations WHERE batch_id = ? ORDER BY start_ts ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations for batch: %w", err)
	}
	return scanObservations(rows)
}

// FetchRange returns observations whose interval overlaps [from, to).
// Overlap, not containment: an observation straddling either edge of
// the window is included.
func (r *ObservationRepo) FetchRange(ctx context.Context, from, to int64) ([]Observation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, batch_id, start_ts, end_ts, observation, metadata, llm_model, created_at
		 FROM observations WHERE start_ts < ? AND end_ts > ? ORDER BY start_ts ASC`,
		to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations in range: %w", err)
	}
	return scanObservations(rows)
}

// DeleteForBatches removes all observations for the given batches. The
// foreign key would cascade on batch delete; this explicit form exists
// for the batch rewind protocol, which keeps the batch row.
func (r *ObservationRepo) DeleteForBatches(ctx context.Context, batchIDs []int64) error {
	if len(batchIDs) == 0 {
		return nil
	}
	args, placeholders := int64Args(batchIDs)
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM observations WHERE batch_id IN (%s)", placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to delete observations: %w", err)
	}
	return nil
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	defer func() {
		_ = rows.Close()
	}()

	var observations []Observation
	for rows.Next() {
		var (
			o         Observation
			metadata  sql.NullString
			llmModel  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&o.ID, &o.BatchID, &o.StartTs, &o.EndTs, &o.Observation, &metadata, &llmModel, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Metadata = metadata.String
		o.LLMModel = llmModel.String
		o.CreatedAt = parseSQLiteTime(createdAt)
		observations = append(observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return observations, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
