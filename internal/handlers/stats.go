package handlers

import (
	"net/http"

	"timelens/internal/contextutil"
	"timelens/internal/timeline"
)

// StatsHandler serves aggregate queries for the UI layer.
type StatsHandler struct {
	svc *timeline.Service
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *timeline.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// TrackedResponse reports total tracked minutes over a range.
type TrackedResponse struct {
	From           int64 `json:"from"`
	To             int64 `json:"to"`
	TrackedMinutes int64 `json:"tracked_minutes"`
}

// UnreviewedResponse reports the number of under-reviewed cards in a day.
type UnreviewedResponse struct {
	Day        string `json:"day"`
	Unreviewed int    `json:"unreviewed"`
}

// Tracked handles GET /api/stats/tracked?from=&to=.
func (h *StatsHandler) Tracked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	from, err := parseInt64Param(r, "from")
	if err != nil || from <= 0 {
		writeError(w, http.StatusBadRequest, "from must be a unix timestamp")
		return
	}
	to, err := parseInt64Param(r, "to")
	if err != nil || to <= from {
		writeError(w, http.StatusBadRequest, "to must be a unix timestamp after from")
		return
	}

	minutes, err := h.svc.TrackedMinutes(ctx, from, to)
	if err != nil {
		logger.ErrorContext(ctx, "failed to compute tracked minutes", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute tracked minutes")
		return
	}
	writeJSON(w, http.StatusOK, TrackedResponse{From: from, To: to, TrackedMinutes: minutes})
}

// Unreviewed handles GET /api/stats/unreviewed?day=2006-01-02.
func (h *StatsHandler) Unreviewed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	day := r.URL.Query().Get("day")
	if !dayPattern.MatchString(day) {
		writeError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return
	}

	count, err := h.svc.UnreviewedCount(ctx, day)
	if err != nil {
		logger.ErrorContext(ctx, "failed to compute unreviewed count", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute unreviewed count")
		return
	}
	writeJSON(w, http.StatusOK, UnreviewedResponse{Day: day, Unreviewed: count})
}
