package handlers

import (
	"bytes"
	"net/http"
	"regexp"

	"github.com/yuin/goldmark"

	"timelens/internal/contextutil"
	"timelens/internal/storage"
	"timelens/internal/timeline"
)

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// TimelineHandler serves a day's timeline cards.
type TimelineHandler struct {
	svc      *timeline.Service
	markdown goldmark.Markdown
}

// NewTimelineHandler creates a new TimelineHandler.
func NewTimelineHandler(svc *timeline.Service) *TimelineHandler {
	return &TimelineHandler{
		svc:      svc,
		markdown: goldmark.New(),
	}
}

// CardResponse is one timeline card in the HTTP response.
type CardResponse struct {
	ID              int64                `json:"id"`
	BatchID         int64                `json:"batch_id,omitempty"`
	StartClock      string               `json:"start_clock"`
	EndClock        string               `json:"end_clock"`
	StartTs         int64                `json:"start_ts"`
	EndTs           int64                `json:"end_ts"`
	Day             string               `json:"day"`
	Title           string               `json:"title"`
	Summary         string               `json:"summary,omitempty"`
	Category        string               `json:"category"`
	Subcategory     string               `json:"subcategory,omitempty"`
	DetailedSummary string               `json:"detailed_summary,omitempty"`
	DetailedHTML    string               `json:"detailed_html,omitempty"`
	Metadata        storage.CardMetadata `json:"metadata"`
	VideoSummaryURL string               `json:"video_summary_url,omitempty"`
}

// TimelineResponse is the payload for a day's timeline.
type TimelineResponse struct {
	Day   string         `json:"day"`
	Cards []CardResponse `json:"cards"`
}

// ServeHTTP handles GET /api/timeline?day=2006-01-02. With
// format=html the markdown detailed summary is also rendered to HTML.
func (h *TimelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	day := r.URL.Query().Get("day")
	if !dayPattern.MatchString(day) {
		writeError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return
	}
	renderHTML := r.URL.Query().Get("format") == "html"

	cards, err := h.svc.CardsForDay(ctx, day)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fetch timeline", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch timeline")
		return
	}

	resp := TimelineResponse{Day: day, Cards: make([]CardResponse, 0, len(cards))}
	for _, c := range cards {
		card := CardResponse{
			ID:              c.ID,
			BatchID:         c.BatchID,
			StartClock:      c.StartClock,
			EndClock:        c.EndClock,
			StartTs:         c.StartTs,
			EndTs:           c.EndTs,
			Day:             c.Day,
			Title:           c.Title,
			Summary:         c.Summary,
			Category:        c.Category,
			Subcategory:     c.Subcategory,
			DetailedSummary: c.DetailedSummary,
			Metadata:        c.Metadata,
			VideoSummaryURL: c.VideoSummaryURL,
		}
		if renderHTML && c.DetailedSummary != "" {
			var buf bytes.Buffer
			if err := h.markdown.Convert([]byte(c.DetailedSummary), &buf); err != nil {
				logger.WarnContext(ctx, "failed to render card markdown", "card_id", c.ID, "error", err)
			} else {
				card.DetailedHTML = buf.String()
			}
		}
		resp.Cards = append(resp.Cards, card)
	}

	writeJSON(w, http.StatusOK, resp)
}
