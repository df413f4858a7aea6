package storage

import "time"

// BatchStatus is the lifecycle state of an analysis batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchAnalyzed   BatchStatus = "analyzed"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Capture represents one raw screen image recorded on disk.
type Capture struct {
	ID         int64
	CapturedAt int64 // unix seconds
	FilePath   string
	FileSize   int64 // 0 until MarkCompleted records the final size
	IsDeleted  bool
}

// AnalysisBatch is a time-bounded group of captures submitted together
// for AI analysis.
type AnalysisBatch struct {
	ID          int64
	StartTs     int64
	EndTs       int64
	Status      BatchStatus
	Reason      string
	LLMMetadata string
	CreatedAt   time.Time
}

// Observation is raw AI transcription output for a slice of a batch,
// recorded before card synthesis.
type Observation struct {
	ID          int64
	BatchID     int64
	StartTs     int64
	EndTs       int64
	Observation string
	Metadata    string
	LLMModel    string
	CreatedAt   time.Time
}

// CategorySystem marks error/placeholder cards. They are excluded from
// range replacement and tracked-minutes aggregation unless the acting
// batch owns them.
const CategorySystem = "System"

// TimelineCard is a finished, user-facing activity segment.
type TimelineCard struct {
	ID              int64
	BatchID         int64 // 0 for synthetic cards with no batch provenance
	StartClock      string
	EndClock        string
	StartTs         int64
	EndTs           int64
	Day             string // "2006-01-02", derived with the 4AM boundary rule
	Title           string
	Summary         string
	Category        string
	Subcategory     string
	DetailedSummary string
	Metadata        CardMetadata
	VideoSummaryURL string
	IsDeleted       bool
	CreatedAt       time.Time
}

// CardShell is the caller-supplied input for a new card: clock strings
// are resolved into absolute timestamps at insert time.
type CardShell struct {
	StartClock      string
	EndClock        string
	Title           string
	Summary         string
	Category        string
	Subcategory     string
	DetailedSummary string
	Metadata        CardMetadata
}

// AppSite records time attributed to one app or site within a card.
type AppSite struct {
	Name    string `json:"name"`
	Minutes int    `json:"minutes,omitempty"`
}

// CardMetadata is the structured sidecar for a card. It is stored as a
// versioned JSON envelope; see encodeCardMetadata/decodeCardMetadata.
type CardMetadata struct {
	Distractions      []string  `json:"distractions,omitempty"`
	AppSites          []AppSite `json:"app_sites,omitempty"`
	IsBackupGenerated bool      `json:"is_backup_generated,omitempty"`
}

// ReviewRatingSegment is one interval of the disjoint review-rating
// layer. Segments never overlap; ApplyRating maintains the invariant.
type ReviewRatingSegment struct {
	ID      int64
	StartTs int64
	EndTs   int64
	Rating  string
}

// LLMCallRecord is one append-only audit entry for an AI-provider call.
type LLMCallRecord struct {
	ID           int64
	BatchID      int64 // 0 when the call had no batch context
	CallGroupID  string
	Attempt      int
	Provider     string
	Model        string
	Operation    string
	Status       string // "success" | "failure"
	LatencyMs    int64
	HTTPStatus   int
	RequestBody  string
	ResponseBody string
	ErrorMessage string
	CreatedAt    time.Time
}

// OCRRegion is one recognized text region within a capture.
type OCRRegion struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// OCRResult is the black-box OCR output for one capture.
type OCRResult struct {
	Text       string
	Regions    []OCRRegion
	Confidence float64
	DurationMs int64
}

// CaptureContext is the foreground app context recorded alongside a
// capture. It is denormalized into the search index at OCR-write time.
type CaptureContext struct {
	AppName     string
	AppBundleID string
	WindowTitle string
	BrowserURL  string
}

// SearchHit is one ranked full-text search result joined back to its
// capture and context.
type SearchHit struct {
	CaptureID   int64   `json:"capture_id"`
	CapturedAt  int64   `json:"captured_at"`
	FilePath    string  `json:"file_path"`
	Excerpt     string  `json:"excerpt"`
	AppName     string  `json:"app_name,omitempty"`
	WindowTitle string  `json:"window_title,omitempty"`
	BrowserURL  string  `json:"browser_url,omitempty"`
	Rank        float64 `json:"rank"`
}
