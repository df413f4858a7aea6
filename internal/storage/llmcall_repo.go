package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// LLMCallLedger is the append-only audit log of AI-provider calls.
// Rows are never updated or deleted by this layer.
type LLMCallLedger interface {
	// Record appends a call record. Audit logging must never fail the
	// caller's primary operation, so errors are logged and swallowed.
	Record(ctx context.Context, rec LLMCallRecord)
	// FetchForBatch returns a batch's call records, oldest first.
	FetchForBatch(ctx context.Context, batchID int64) ([]LLMCallRecord, error)
}

// LLMCallRepo provides methods for the LLM call audit log.
// It implements the LLMCallLedger interface.
type LLMCallRepo struct {
	db *sql.DB
}

// NewLLMCallRepo creates a new LLMCallRepo.
func NewLLMCallRepo(db *sql.DB) *LLMCallRepo {
	return &LLMCallRepo{db: db}
}

// Record appends a call record.
func (r *LLMCallRepo) Record(ctx context.Context, rec LLMCallRecord) {
	attempt := rec.Attempt
	if attempt < 1 {
		attempt = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO llm_calls
		 (batch_id, call_group_id, attempt, provider, model, operation, status,
		  latency_ms, http_status, request_body, response_body, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(rec.BatchID), nullableString(rec.CallGroupID), attempt,
		rec.Provider, nullableString(rec.Model), rec.Operation, rec.Status,
		rec.LatencyMs, rec.HTTPStatus, nullableString(rec.RequestBody),
		nullableString(rec.ResponseBody), nullableString(rec.ErrorMessage),
	)
	if err != nil {
		slog.Warn("failed to record llm call", "provider", rec.Provider, "operation", rec.Operation, "error", err)
	}
}

// FetchForBatch returns a batch's call records, oldest first.
func (r *LLMCallRepo) FetchForBatch(ctx context.Context, batchID int64) ([]LLMCallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, batch_id, call_group_id, attempt, provider, model, operation, status,
		        latency_ms, http_status, request_body, response_body, error_message, created_at
		 FROM llm_calls WHERE batch_id = ? ORDER BY id ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm calls: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []LLMCallRecord
	for rows.Next() {
		var (
			rec       LLMCallRecord
			batch     sql.NullInt64
			group     sql.NullString
			model     sql.NullString
			latency   sql.NullInt64
			httpCode  sql.NullInt64
			request   sql.NullString
			response  sql.NullString
			errMsg    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &batch, &group, &rec.Attempt, &rec.Provider, &model,
			&rec.Operation, &rec.Status, &latency, &httpCode, &request, &response, &errMsg,
			&createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan llm call: %w", err)
		}
		rec.BatchID = batch.Int64
		rec.CallGroupID = group.String
		rec.Model = model.String
		rec.LatencyMs = latency.Int64
		rec.HTTPStatus = int(httpCode.Int64)
		rec.RequestBody = request.String
		rec.ResponseBody = response.String
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = parseSQLiteTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}
