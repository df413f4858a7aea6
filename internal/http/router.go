package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"timelens/internal/handlers"
	"timelens/internal/storage"
	"timelens/internal/timeline"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Timeline *timeline.Service
	Search   storage.SearchIndex
	DB       *sql.DB
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	timelineHandler := handlers.NewTimelineHandler(deps.Timeline)
	searchHandler := handlers.NewSearchHandler(deps.Search)
	statsHandler := handlers.NewStatsHandler(deps.Timeline)
	reviewHandler := handlers.NewReviewHandler(deps.Timeline)
	batchHandler := handlers.NewBatchHandler(deps.Timeline)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/timeline", timelineHandler)
		r.Method(http.MethodGet, "/search", searchHandler)
		r.Get("/stats/tracked", statsHandler.Tracked)
		r.Get("/stats/unreviewed", statsHandler.Unreviewed)
		r.Method(http.MethodPost, "/review", reviewHandler)
		r.Post("/batches/reset", batchHandler.Reset)
		r.Method(http.MethodGet, "/health", healthHandler)
	})

	return r
}
