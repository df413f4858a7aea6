package handlers

import (
	"net/http"
	"strconv"

	"timelens/internal/contextutil"
	"timelens/internal/storage"
)

// SearchHandler serves full-text search over captured screen content.
type SearchHandler struct {
	index storage.SearchIndex
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(index storage.SearchIndex) *SearchHandler {
	return &SearchHandler{index: index}
}

// SearchResponse is the payload for a search query.
type SearchResponse struct {
	Query string              `json:"query"`
	Hits  []storage.SearchHit `json:"hits"`
}

// ServeHTTP handles GET /api/search?q=...&from=&to=&app=&limit=&offset=.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	opts := storage.SearchOptions{AppBundleID: r.URL.Query().Get("app")}
	var err error
	if opts.From, err = parseInt64Param(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "from must be a unix timestamp")
		return
	}
	if opts.To, err = parseInt64Param(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "to must be a unix timestamp")
		return
	}
	if limit, err := parseInt64Param(r, "limit"); err == nil {
		opts.Limit = int(limit)
	}
	if offset, err := parseInt64Param(r, "offset"); err == nil {
		opts.Offset = int(offset)
	}

	hits, err := h.index.Search(ctx, q, opts)
	if err != nil {
		logger.ErrorContext(ctx, "search failed", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	if hits == nil {
		hits = []storage.SearchHit{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Query: q, Hits: hits})
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
