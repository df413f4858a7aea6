package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"timelens/internal/contextutil"
	"timelens/internal/timeline"
)

// ReviewHandler applies review ratings over time ranges.
type ReviewHandler struct {
	svc *timeline.Service
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(svc *timeline.Service) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

// ApplyRatingRequest is the payload for POST /api/review.
type ApplyRatingRequest struct {
	StartTs int64  `json:"start_ts"`
	EndTs   int64  `json:"end_ts"`
	Rating  string `json:"rating"`
}

// ServeHTTP handles POST /api/review.
func (h *ReviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ApplyRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EndTs <= req.StartTs {
		writeError(w, http.StatusBadRequest, "end_ts must be after start_ts")
		return
	}
	if strings.TrimSpace(req.Rating) == "" {
		writeError(w, http.StatusBadRequest, "rating is required")
		return
	}

	if err := h.svc.ApplyRating(ctx, req.StartTs, req.EndTs, req.Rating); err != nil {
		logger.ErrorContext(ctx, "failed to apply rating", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to apply rating")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
