package handlers

import (
	"encoding/json"
	"net/http"

	"timelens/internal/contextutil"
	"timelens/internal/timeline"
)

// BatchHandler exposes the batch rewind protocol for reprocessing.
type BatchHandler struct {
	svc *timeline.Service
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(svc *timeline.Service) *BatchHandler {
	return &BatchHandler{svc: svc}
}

// ResetRequest names batches to rewind, either directly or by day.
type ResetRequest struct {
	BatchIDs []int64 `json:"batch_ids,omitempty"`
	Day      string  `json:"day,omitempty"`
}

// ResetResponse lists the batches actually rewound.
type ResetResponse struct {
	Affected []int64 `json:"affected"`
}

// Reset handles POST /api/batches/reset.
func (h *BatchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.BatchIDs) == 0 && req.Day == "" {
		writeError(w, http.StatusBadRequest, "batch_ids or day is required")
		return
	}
	if req.Day != "" && !dayPattern.MatchString(req.Day) {
		writeError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return
	}

	var (
		affected []int64
		err      error
	)
	if req.Day != "" {
		affected, err = h.svc.RewindDay(ctx, req.Day)
	} else {
		affected, err = h.svc.RewindBatches(ctx, req.BatchIDs)
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to rewind batches", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset batches")
		return
	}
	if affected == nil {
		affected = []int64{}
	}
	writeJSON(w, http.StatusOK, ResetResponse{Affected: affected})
}
