package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
	excerptRunes       = 240
)

// stopWords are dropped from unquoted queries before prefix expansion.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "with": {},
}

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "‘", "'", "’", "'",
)

// SearchOptions narrows and pages a full-text query.
type SearchOptions struct {
	From        int64  // inclusive captured_at lower bound, 0 = unbounded
	To          int64  // exclusive captured_at upper bound, 0 = unbounded
	AppBundleID string // exact app filter, "" = all apps
	Limit       int
	Offset      int
}

// SearchIndex queries the full-text index over OCR text and capture
// context.
type SearchIndex interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error)
}

// SearchRepo provides ranked full-text retrieval over captures.
// It implements the SearchIndex interface.
type SearchRepo struct {
	db *sql.DB
}

// NewSearchRepo creates a new SearchRepo.
func NewSearchRepo(db *sql.DB) *SearchRepo {
	return &SearchRepo{db: db}
}

// BuildQuery turns raw user input into an FTS match expression. Smart
// quotes are normalized; a fully-quoted query passes through for exact
// phrase matching; otherwise stop words are dropped and every token is
// quoted and suffixed with * for prefix matching, joined by implicit
// AND. An empty result means "nothing to search for".
func BuildQuery(raw string) string {
	q := strings.TrimSpace(smartQuoteReplacer.Replace(raw))
	if q == "" {
		return ""
	}

	if len(q) >= 2 && strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) &&
		!strings.Contains(q[1:len(q)-1], `"`) {
		return q
	}

	var tokens []string
	for _, field := range strings.Fields(q) {
		field = strings.Trim(field, `"'`)
		if field == "" {
			continue
		}
		if _, ok := stopWords[strings.ToLower(field)]; ok {
			continue
		}
		tokens = append(tokens, `"`+field+`"*`)
	}
	return strings.Join(tokens, " ")
}

// Search executes a full-text query joined back to captures, OCR text,
// and context, ranked by bm25 with most-recent-first tiebreak.
func (r *SearchRepo) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	match := BuildQuery(query)
	if match == "" {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Limit > maxSearchLimit {
		opts.Limit = maxSearchLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT c.id, c.captured_at, c.file_path, o.text,
		COALESCE(cc.app_name, ''), COALESCE(cc.window_title, ''), COALESCE(cc.browser_url, ''),
		bm25(capture_search) AS rank
		FROM capture_search
		JOIN captures c ON c.id = capture_search.rowid AND c.is_deleted = 0
		JOIN ocr_results o ON o.capture_id = c.id
		LEFT JOIN capture_context cc ON cc.capture_id = c.id
		WHERE capture_search MATCH ?`)
	args := []any{match}

	if opts.From > 0 {
		sb.WriteString(" AND c.captured_at >= ?")
		args = append(args, opts.From)
	}
	if opts.To > 0 {
		sb.WriteString(" AND c.captured_at < ?")
		args = append(args, opts.To)
	}
	if opts.AppBundleID != "" {
		sb.WriteString(" AND cc.app_bundle_id = ?")
		args = append(args, opts.AppBundleID)
	}
	sb.WriteString(" ORDER BY rank ASC, c.captured_at DESC LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var hits []SearchHit
	for rows.Next() {
		var (
			h    SearchHit
			text string
		)
		if err := rows.Scan(&h.CaptureID, &h.CapturedAt, &h.FilePath, &text,
			&h.AppName, &h.WindowTitle, &h.BrowserURL, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		h.Excerpt = truncateExcerpt(text, excerptRunes)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return hits, nil
}

func truncateExcerpt(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}
