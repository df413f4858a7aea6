package storage

import (
	"database/sql"
	"fmt"
)

// Migrate creates the schema. It is idempotent and runs at every
// startup; evolution is additive only (guarded check-then-alter column
// additions, never destructive rewrites).
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			captured_at INTEGER NOT NULL,
			file_path TEXT NOT NULL UNIQUE,
			file_size INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at);`,
		`CREATE TABLE IF NOT EXISTS analysis_batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_start_ts INTEGER NOT NULL,
			batch_end_ts INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT,
			llm_metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS batch_captures (
			batch_id INTEGER NOT NULL REFERENCES analysis_batches(id) ON DELETE CASCADE,
			capture_id INTEGER NOT NULL REFERENCES captures(id),
			UNIQUE (batch_id, capture_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batch_captures_capture ON batch_captures(capture_id);`,
		`CREATE TABLE IF NOT EXISTS observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id INTEGER NOT NULL REFERENCES analysis_batches(id) ON DELETE CASCADE,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			observation TEXT NOT NULL,
			metadata TEXT,
			llm_model TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_observations_batch ON observations(batch_id, start_ts);`,
		`CREATE TABLE IF NOT EXISTS timeline_cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id INTEGER REFERENCES analysis_batches(id),
			start_clock TEXT NOT NULL,
			end_clock TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			day TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT,
			category TEXT NOT NULL,
			detailed_summary TEXT,
			metadata TEXT,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_day ON timeline_cards(day, start_ts);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_range ON timeline_cards(start_ts, end_ts);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_batch ON timeline_cards(batch_id);`,
		`CREATE TABLE IF NOT EXISTS review_ratings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			rating TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_review_ratings_range ON review_ratings(start_ts, end_ts);`,
		`CREATE TABLE IF NOT EXISTS llm_calls (
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
		);`,
		`CREATE INDEX IF NOT EXISTS idx_llm_calls_batch ON llm_calls(batch_id);`,
		`CREATE TABLE IF NOT EXISTS ocr_results (
			capture_id INTEGER PRIMARY KEY REFERENCES captures(id),
			text TEXT NOT NULL,
			regions TEXT,
			confidence REAL,
			duration_ms INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS capture_context (
			capture_id INTEGER PRIMARY KEY REFERENCES captures(id),
			app_name TEXT,
			app_bundle_id TEXT,
			window_title TEXT,
			browser_url TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_capture_context_bundle ON capture_context(app_bundle_id);`,
		// Contentless FTS index keyed by capture id; context columns are
		// denormalized at OCR-write time so queries need no join to
		// match on them.
		`CREATE VIRTUAL TABLE IF NOT EXISTS capture_search USING fts5(
			text, app_name, window_title, browser_url, content='', contentless_delete=1
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	// Additive column migrations for databases created before the
	// column existed.
	migrations := []struct {
		table, column, ddl string
	}{
		{"timeline_cards", "video_summary_url",
			`ALTER TABLE timeline_cards ADD COLUMN video_summary_url TEXT`},
		{"timeline_cards", "subcategory",
			`ALTER TABLE timeline_cards ADD COLUMN subcategory TEXT`},
		{"llm_calls", "call_group_id",
			`ALTER TABLE llm_calls ADD COLUMN call_group_id TEXT`},
	}
	for _, m := range migrations {
		if err := ensureColumn(db, m.table, m.column, m.ddl); err != nil {
			return err
		}
	}

	return nil
}

// ensureColumn adds a column if the table does not already have it.
func ensureColumn(db *sql.DB, table, column, ddl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}
