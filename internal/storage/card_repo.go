package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_card_store.go -package=mocks timelens/internal/storage CardStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// defaultReviewThreshold is the coverage ratio below which a card
// counts as unreviewed.
const defaultReviewThreshold = 0.8

// CardStore persists user-facing timeline cards. Cards are never
// edited in place: mutation is limited to video attachment, category
// correction, soft deletion, and range replacement, preserving the
// audit trail.
type CardStore interface {
	// SaveShell inserts a single card using batch-anchored clock
	// resolution and returns its id. It fails if the batch is unknown
	// or either clock string does not parse.
	SaveShell(ctx context.Context, batchID int64, shell CardShell) (int64, error)
	// ReplaceInRange soft-deletes the active cards overlapping
	// [from, to) and inserts newCards with midpoint-anchored clock
	// resolution. System cards survive unless they belong to batchID.
	// Returns the new card ids and the video URLs orphaned by the
	// soft deletes, for the caller to garbage-collect on disk.
	ReplaceInRange(ctx context.Context, from, to int64, newCards []CardShell, batchID int64) ([]int64, []string, error)
	// AttachVideoURL records the rendered video for a card.
	AttachVideoURL(ctx context.Context, cardID int64, url string) error
	// UpdateCategory corrects a card's category. Blank input is a no-op.
	UpdateCategory(ctx context.Context, cardID int64, category string) error
	// FetchForDay returns a day's active cards ordered by start time.
	FetchForDay(ctx context.Context, day string) ([]TimelineCard, error)
	// FetchForBatch returns a batch's active cards ordered by start time.
	FetchForBatch(ctx context.Context, batchID int64) ([]TimelineCard, error)
	// FetchByTimeRange returns active non-System cards overlapping
	// [from, to).
	FetchByTimeRange(ctx context.Context, from, to int64) ([]TimelineCard, error)
	// DeleteForDay soft-deletes a day's cards and returns orphaned
	// video URLs.
	DeleteForDay(ctx context.Context, day string) ([]string, error)
	// DeleteForBatches soft-deletes the cards of the given batches and
	// returns orphaned video URLs.
	DeleteForBatches(ctx context.Context, batchIDs []int64) ([]string, error)
	// UnreviewedCount counts a day's cards whose review coverage falls
	// below the threshold (pass 0 for the default).
	UnreviewedCount(ctx context.Context, day string, threshold float64) (int, error)
	// TrackedMinutes sums card time over [from, to), clipped to the
	// range, excluding System cards.
	TrackedMinutes(ctx context.Context, from, to int64) (int64, error)
}

// CardRepo provides methods for timeline card operations.
// It implements the CardStore interface.
type CardRepo struct {
	db *sql.DB
}

// NewCardRepo creates a new CardRepo.
func NewCardRepo(db *sql.DB) *CardRepo {
	return &CardRepo{db: db}
}

// SaveShell inserts a single card anchored to its batch's start
// timestamp.
func (r *CardRepo) SaveShell(ctx context.Context, batchID int64, shell CardShell) (int64, error) {
	var anchor int64
	err := r.db.QueryRowContext(ctx,
		"SELECT batch_start_ts FROM analysis_batches WHERE id = ?", batchID,
	).Scan(&anchor)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query batch anchor: %w", err)
	}

	startTs, endTs, err := resolveBatchAnchored(shell.StartClock, shell.EndClock, anchor)
	if err != nil {
		return 0, err
	}

	return r.insertCard(ctx, r.db, batchID, shell, startTs, endTs)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *CardRepo) insertCard(ctx context.Context, ex execer, batchID int64, shell CardShell, startTs, endTs int64) (int64, error) {
	if endTs <= startTs {
		return 0, fmt.Errorf("card end %d not after start %d", endTs, startTs)
	}
	metadata, err := encodeCardMetadata(shell.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := ex.ExecContext(ctx,
		`INSERT INTO timeline_cards
		 (batch_id, start_clock, end_clock, start_ts, end_ts, day, title, summary, category, subcategory, detailed_summary, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(batchID), shell.StartClock, shell.EndClock, startTs, endTs, DayString(startTs),
		shell.Title, shell.Summary, shell.Category, nullableString(shell.Subcategory),
		shell.DetailedSummary, metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get card id: %w", err)
	}
	return id, nil
}

// ReplaceInRange atomically supersedes the window's active cards with a
// new interpretation. Old rows are soft-deleted, never removed, so the
// previous reading stays auditable.
func (r *CardRepo) ReplaceInRange(ctx context.Context, from, to int64, newCards []CardShell, batchID int64) ([]int64, []string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin replace transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// System cards from other batches are placeholders that must
	// survive; the acting batch's own get replaced so a retry can
	// self-heal its earlier error card.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, video_summary_url FROM timeline_cards
		 WHERE is_deleted = 0
		   AND ((start_ts < ? AND end_ts > ?) OR (start_ts >= ? AND start_ts < ?))
		   AND (category != ? OR batch_id = ?)`,
		to, from, from, to, CategorySystem, batchID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query overlapping cards: %w", err)
	}
	var (
		replaced []int64
		orphaned []string
	)
	for rows.Next() {
		var (
			id    int64
			video sql.NullString
		)
		if err := rows.Scan(&id, &video); err != nil {
			_ = rows.Close()
			return nil, nil, fmt.Errorf("failed to scan overlapping card: %w", err)
		}
		replaced = append(replaced, id)
		if video.String != "" {
			orphaned = append(orphaned, video.String)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	if len(replaced) > 0 {
		args, placeholders := int64Args(replaced)
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE timeline_cards SET is_deleted = 1 WHERE id IN (%s)", placeholders),
			args...,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to soft-delete overlapping cards: %w", err)
		}
	}

	var inserted []int64
	for _, shell := range newCards {
		startTs, endTs, err := resolveMidpointAnchored(shell.StartClock, shell.EndClock, from, to)
		if err != nil {
			// A malformed card is skipped; the rest of the batch
			// still applies.
			continue
		}
		id, err := r.insertCard(ctx, tx, batchID, shell, startTs, endTs)
		if err != nil {
			continue
		}
		inserted = append(inserted, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit replace: %w", err)
	}
	return inserted, orphaned, nil
}

// AttachVideoURL records the rendered video for a card.
func (r *CardRepo) AttachVideoURL(ctx context.Context, cardID int64, url string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE timeline_cards SET video_summary_url = ? WHERE id = ?",
		url, cardID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach video url: %w", err)
	}
	return nil
}

// UpdateCategory corrects a card's category. Blank or whitespace-only
// input is a no-op.
func (r *CardRepo) UpdateCategory(ctx context.Context, cardID int64, category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE timeline_cards SET category = ? WHERE id = ?",
		category, cardID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card category: %w", err)
	}
	return nil
}

const cardColumns = `id, batch_id, start_clock, end_clock, start_ts, end_ts, day, title,
	summary, category, subcategory, detailed_summary, metadata, video_summary_url, is_deleted, created_at`

// FetchForDay returns a day's active cards ordered by start time.
func (r *CardRepo) FetchForDay(ctx context.Context, day string) ([]TimelineCard, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM timeline_cards WHERE day = ? AND is_deleted = 0 ORDER BY start_ts ASC",
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for day: %w", err)
	}
	return scanCards(rows)
}

// FetchForBatch returns a batch's active cards ordered by start time.
func (r *CardRepo) FetchForBatch(ctx context.Context, batchID int64) ([]TimelineCard, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM timeline_cards WHERE batch_id = ? AND is_deleted = 0 ORDER BY start_ts ASC",
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for batch: %w", err)
	}
	return scanCards(rows)
}

// FetchByTimeRange returns active non-System cards overlapping [from, to).
func (r *CardRepo) FetchByTimeRange(ctx context.Context, from, to int64) ([]TimelineCard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM timeline_cards
		 WHERE is_deleted = 0 AND category != ? AND start_ts < ? AND end_ts > ?
		 ORDER BY start_ts ASC`,
		CategorySystem, to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards in range: %w", err)
	}
	return scanCards(rows)
}

// DeleteForDay soft-deletes a day's cards. Orphaned video URLs are
// returned for the caller to clean up; the store never touches card
// files itself.
func (r *CardRepo) DeleteForDay(ctx context.Context, day string) ([]string, error) {
	return r.softDeleteWhere(ctx, "day = ?", day)
}

// DeleteForBatches soft-deletes the cards of the given batches and
// returns orphaned video URLs.
func (r *CardRepo) DeleteForBatches(ctx context.Context, batchIDs []int64) ([]string, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	args, placeholders := int64Args(batchIDs)
	return r.softDeleteWhere(ctx, fmt.Sprintf("batch_id IN (%s)", placeholders), args...)
}

func (r *CardRepo) softDeleteWhere(ctx context.Context, where string, args ...any) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT video_summary_url FROM timeline_cards WHERE is_deleted = 0 AND video_summary_url IS NOT NULL AND "+where,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned videos: %w", err)
	}
	var orphaned []string
	for rows.Next() {
		var video string
		if err := rows.Scan(&video); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan video url: %w", err)
		}
		if video != "" {
			orphaned = append(orphaned, video)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx,
		"UPDATE timeline_cards SET is_deleted = 1 WHERE is_deleted = 0 AND "+where,
		args...,
	); err != nil {
		return nil, fmt.Errorf("failed to soft-delete cards: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return orphaned, nil
}

// UnreviewedCount counts a day's non-System cards whose fraction of
// duration covered by review-rating segments falls below the
// threshold. Cards with invalid timestamps count unconditionally.
// Cards and merged segments are both sorted by start, so a single
// shared cursor keeps the sweep linear.
func (r *CardRepo) UnreviewedCount(ctx context.Context, day string, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = defaultReviewThreshold
	}
	dayFrom, dayTo, err := DayRange(day)
	if err != nil {
		return 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT start_ts, end_ts FROM timeline_cards
		 WHERE day = ? AND is_deleted = 0 AND category != ?
		 ORDER BY start_ts ASC`,
		day, CategorySystem,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query cards for review count: %w", err)
	}
	type span struct{ start, end int64 }
	var cards []span
	for rows.Next() {
		var s span
		if err := rows.Scan(&s.start, &s.end); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan card span: %w", err)
		}
		cards = append(cards, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	segments, err := mergedSegments(ctx, r.db, dayFrom, dayTo)
	if err != nil {
		return 0, err
	}

	count := 0
	segIdx := 0
	for _, card := range cards {
		if card.end <= card.start {
			count++
			continue
		}
		for segIdx < len(segments) && segments[segIdx].EndTs <= card.start {
			segIdx++
		}
		var covered int64
		for j := segIdx; j < len(segments) && segments[j].StartTs < card.end; j++ {
			covered += min64(segments[j].EndTs, card.end) - max64(segments[j].StartTs, card.start)
		}
		if float64(covered)/float64(card.end-card.start) < threshold {
			count++
		}
	}
	return count, nil
}

// TrackedMinutes sums card time over [from, to), clipped to the range,
// excluding System cards and invalid spans.
func (r *CardRepo) TrackedMinutes(ctx context.Context, from, to int64) (int64, error) {
	var seconds sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(MIN(end_ts, ?) - MAX(start_ts, ?)) FROM timeline_cards
		 WHERE is_deleted = 0 AND category != ? AND start_ts < ? AND end_ts > ? AND end_ts > start_ts`,
		to, from, CategorySystem, to, from,
	).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("failed to sum tracked time: %w", err)
	}
	return seconds.Int64 / 60, nil
}

func scanCards(rows *sql.Rows) ([]TimelineCard, error) {
	defer func() {
		_ = rows.Close()
	}()

	var cards []TimelineCard
	for rows.Next() {
		var (
			c           TimelineCard
			batchID     sql.NullInt64
			summary     sql.NullString
			subcategory sql.NullString
			detailed    sql.NullString
			metadata    sql.NullString
			video       sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&c.ID, &batchID, &c.StartClock, &c.EndClock, &c.StartTs, &c.EndTs,
			&c.Day, &c.Title, &summary, &c.Category, &subcategory, &detailed, &metadata,
			&video, &c.IsDeleted, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.BatchID = batchID.Int64
		c.Summary = summary.String
		c.Subcategory = subcategory.String
		c.DetailedSummary = detailed.String
		c.VideoSummaryURL = video.String
		c.CreatedAt = parseSQLiteTime(createdAt)

		meta, err := decodeCardMetadata(metadata.String)
		if err != nil {
			return nil, err
		}
		c.Metadata = meta
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return cards, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
