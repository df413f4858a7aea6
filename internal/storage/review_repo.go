package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ReviewStore maintains the disjoint interval layer of review ratings.
// Ratings are independent of card boundaries; coverage against cards is
// computed geometrically.
type ReviewStore interface {
	// ApplyRating assigns rating to [startTs, endTs). Existing segments
	// inside the range lose that portion; the remainders outside it
	// keep their original rating. Last writer wins within the range.
	ApplyRating(ctx context.Context, startTs, endTs int64, rating string) error
	// FetchOverlapping returns segments overlapping [startTs, endTs)
	// sorted by start.
	FetchOverlapping(ctx context.Context, startTs, endTs int64) ([]ReviewRatingSegment, error)
}

// ReviewRepo provides methods for review rating operations.
// It implements the ReviewStore interface.
type ReviewRepo struct {
	db *sql.DB
}

// NewReviewRepo creates a new ReviewRepo.
func NewReviewRepo(db *sql.DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

// ApplyRating fragments every overlapping segment to its remainder
// outside [startTs, endTs), then inserts the new interval. The whole
// operation is one transaction: a partial application would leave
// overlapping segments, violating the disjointness invariant.
func (r *ReviewRepo) ApplyRating(ctx context.Context, startTs, endTs int64, rating string) error {
	if endTs <= startTs {
		return fmt.Errorf("rating end %d not after start %d", endTs, startTs)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rating transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, start_ts, end_ts, rating FROM review_ratings WHERE start_ts < ? AND end_ts > ?",
		endTs, startTs,
	)
	if err != nil {
		return fmt.Errorf("failed to query overlapping segments: %w", err)
	}
	var overlapping []ReviewRatingSegment
	for rows.Next() {
		var s ReviewRatingSegment
		if err := rows.Scan(&s.ID, &s.StartTs, &s.EndTs, &s.Rating); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan segment: %w", err)
		}
		overlapping = append(overlapping, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	for _, s := range overlapping {
		if _, err := tx.ExecContext(ctx, "DELETE FROM review_ratings WHERE id = ?", s.ID); err != nil {
			return fmt.Errorf("failed to delete overlapping segment: %w", err)
		}
		if s.StartTs < startTs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO review_ratings (start_ts, end_ts, rating) VALUES (?, ?, ?)",
				s.StartTs, startTs, s.Rating,
			); err != nil {
				return fmt.Errorf("failed to insert left remainder: %w", err)
			}
		}
		if s.EndTs > endTs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO review_ratings (start_ts, end_ts, rating) VALUES (?, ?, ?)",
				endTs, s.EndTs, s.Rating,
			); err != nil {
				return fmt.Errorf("failed to insert right remainder: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO review_ratings (start_ts, end_ts, rating) VALUES (?, ?, ?)",
		startTs, endTs, rating,
	); err != nil {
		return fmt.Errorf("failed to insert rating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating: %w", err)
	}
	return nil
}

// FetchOverlapping returns segments overlapping [startTs, endTs)
// sorted by start.
func (r *ReviewRepo) FetchOverlapping(ctx context.Context, startTs, endTs int64) ([]ReviewRatingSegment, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, start_ts, end_ts, rating FROM review_ratings WHERE start_ts < ? AND end_ts > ? ORDER BY start_ts ASC",
		endTs, startTs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var segments []ReviewRatingSegment
	for rows.Next() {
		var s ReviewRatingSegment
		if err := rows.Scan(&s.ID, &s.StartTs, &s.EndTs, &s.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return segments, nil
}

// mergedSegments returns the segments overlapping [from, to) coalesced
// into sorted, non-overlapping spans regardless of rating. Coverage
// math cares about reviewed time, not which rating covered it.
func mergedSegments(ctx context.Context, db *sql.DB, from, to int64) ([]ReviewRatingSegment, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, start_ts, end_ts, rating FROM review_ratings WHERE start_ts < ? AND end_ts > ? ORDER BY start_ts ASC",
		to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for merge: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var merged []ReviewRatingSegment
	for rows.Next() {
		var s ReviewRatingSegment
		if err := rows.Scan(&s.ID, &s.StartTs, &s.EndTs, &s.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		if n := len(merged); n > 0 && s.StartTs <= merged[n-1].EndTs {
			if s.EndTs > merged[n-1].EndTs {
				merged[n-1].EndTs = s.EndTs
			}
			continue
		}
		merged = append(merged, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return merged, nil
}
