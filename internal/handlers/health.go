package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"timelens/internal/storage"
)

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// ServeHTTP handles GET /api/health. Returns 200 when the store is
// reachable and passes its integrity check, 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "integrity": "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else if err := storage.IntegrityCheck(h.db); err != nil {
		checks["integrity"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	label := "healthy"
	if status != http.StatusOK {
		label = "unhealthy"
	}
	writeJSON(w, status, HealthResponse{
		Status:    label,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}
