package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// OCRStore is the boundary consumed by the OCR collaborator. Writing an
// OCR result also populates the full-text index in the same
// transaction, joining in whatever capture context is already known.
type OCRStore interface {
	// SaveContext records the foreground app context for a capture.
	SaveContext(ctx context.Context, captureID int64, cc CaptureContext) error
	// SaveOCR writes the OCR row and indexes it for search.
	SaveOCR(ctx context.Context, captureID int64, result OCRResult) error
	// GetOCRText returns the recognized text for a capture, or
	// ErrNotFound.
	GetOCRText(ctx context.Context, captureID int64) (string, error)
}

// OCRRepo provides methods for OCR result storage and indexing.
// It implements the OCRStore interface.
type OCRRepo struct {
	db *sql.DB
}

// NewOCRRepo creates a new OCRRepo.
func NewOCRRepo(db *sql.DB) *OCRRepo {
	return &OCRRepo{db: db}
}

// SaveContext records the foreground app context for a capture.
func (r *OCRRepo) SaveContext(ctx context.Context, captureID int64, cc CaptureContext) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO capture_context (capture_id, app_name, app_bundle_id, window_title, browser_url)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (capture_id) DO UPDATE SET
		 app_name = excluded.app_name, app_bundle_id = excluded.app_bundle_id,
		 window_title = excluded.window_title, browser_url = excluded.browser_url`,
		captureID, cc.AppName, cc.AppBundleID, cc.WindowTitle, cc.BrowserURL,
	)
	if err != nil {
		return fmt.Errorf("failed to save capture context: %w", err)
	}
	return nil
}

// SaveOCR writes the OCR row, joins in the capture's context, and
// inserts the search-index row, all in one transaction. The index is
// contentless and keyed by capture id, so the context join happens here
// at write time rather than at query time.
func (r *OCRRepo) SaveOCR(ctx context.Context, captureID int64, result OCRResult) error {
	regions, err := json.Marshal(result.Regions)
	if err != nil {
		return fmt.Errorf("failed to encode ocr regions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ocr transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ocr_results (capture_id, text, regions, confidence, duration_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (capture_id) DO UPDATE SET
		 text = excluded.text, regions = excluded.regions,
		 confidence = excluded.confidence, duration_ms = excluded.duration_ms`,
		captureID, result.Text, string(regions), result.Confidence, result.DurationMs,
	); err != nil {
		return fmt.Errorf("failed to save ocr result: %w", err)
	}

	var cc CaptureContext
	err = tx.QueryRowContext(ctx,
		"SELECT app_name, app_bundle_id, window_title, browser_url FROM capture_context WHERE capture_id = ?",
		captureID,
	).Scan(&cc.AppName, &cc.AppBundleID, &cc.WindowTitle, &cc.BrowserURL)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to join capture context: %w", err)
	}

	// The index is contentless, so replace any prior row for this
	// capture explicitly.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM capture_search WHERE rowid = ?", captureID,
	); err != nil {
		return fmt.Errorf("failed to clear old index row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO capture_search (rowid, text, app_name, window_title, browser_url) VALUES (?, ?, ?, ?, ?)",
		captureID, result.Text, cc.AppName, cc.WindowTitle, cc.BrowserURL,
	); err != nil {
		return fmt.Errorf("failed to index ocr text: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ocr result: %w", err)
	}
	return nil
}

// GetOCRText returns the recognized text for a capture.
func (r *OCRRepo) GetOCRText(ctx context.Context, captureID int64) (string, error) {
	var text string
	err := r.db.QueryRowContext(ctx,
		"SELECT text FROM ocr_results WHERE capture_id = ?", captureID,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query ocr text: %w", err)
	}
	return text, nil
}
