package timeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timelens/internal/storage"
)

type testStores struct {
	db       *sql.DB
	captures *storage.CaptureRepo
	batches  *storage.BatchRepo
	cards    *storage.CardRepo
	obs      *storage.ObservationRepo
}

func newTestService(t *testing.T) (*Service, *testStores) {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	stores := &testStores{
		db:       db,
		captures: storage.NewCaptureRepo(db, t.TempDir()),
		batches:  storage.NewBatchRepo(db),
		cards:    storage.NewCardRepo(db),
		obs:      storage.NewObservationRepo(db),
	}
	svc := New(
		stores.captures,
		stores.batches,
		stores.obs,
		stores.cards,
		storage.NewReviewRepo(db),
		storage.NewLLMCallRepo(db),
	)
	t.Cleanup(svc.Close)
	return svc, stores
}

// seedAnalyzedBatch builds a batch carrying one observation and one
// card with an on-disk video, as left behind by a completed analysis.
func seedAnalyzedBatch(t *testing.T, stores *testStores, start time.Time) (int64, string) {
	t.Helper()
	ctx := context.Background()

	path, err := stores.captures.NextCapturePath(start)
	if err != nil {
		t.Fatalf("NextCapturePath() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	captureID, err := stores.captures.Register(ctx, path, start.Unix())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	batchID, err := stores.batches.CreateBatch(ctx, start.Unix(), start.Add(15*time.Minute).Unix(), []int64{captureID})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := stores.batches.SetStatus(ctx, batchID, storage.BatchProcessing); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := stores.batches.SetStatus(ctx, batchID, storage.BatchAnalyzed); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	if err := stores.obs.Save(ctx, batchID, []storage.Observation{
		{StartTs: start.Unix(), EndTs: start.Add(10 * time.Minute).Unix(), Observation: "working"},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cardID, err := stores.cards.SaveShell(ctx, batchID, storage.CardShell{
		StartClock: start.Format("3:04 PM"),
		EndClock:   start.Add(15 * time.Minute).Format("3:04 PM"),
		Title:      "Session",
		Category:   "Work",
	})
	if err != nil {
		t.Fatalf("SaveShell() error = %v", err)
	}

	video := filepath.Join(t.TempDir(), "summary.mp4")
	if err := os.WriteFile(video, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := stores.cards.AttachVideoURL(ctx, cardID, video); err != nil {
		t.Fatalf("AttachVideoURL() error = %v", err)
	}
	return batchID, video
}

func TestService_RewindBatches(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)
	batchID, video := seedAnalyzedBatch(t, stores, start)

	affected, err := svc.RewindBatches(ctx, []int64{batchID})
	if err != nil {
		t.Fatalf("RewindBatches() error = %v", err)
	}
	if len(affected) != 1 || affected[0] != batchID {
		t.Errorf("RewindBatches() affected = %v, want [%d]", affected, batchID)
	}

	batch, err := stores.batches.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if batch.Status != storage.BatchPending {
		t.Errorf("batch status = %q after rewind, want %q", batch.Status, storage.BatchPending)
	}

	cards, err := stores.cards.FetchForBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("FetchForBatch() error = %v", err)
	}
	if len(cards) != 0 {
		t.Errorf("cards = %v after rewind, want none active", cards)
	}

	observations, err := stores.obs.FetchForBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("FetchForBatch() error = %v", err)
	}
	if len(observations) != 0 {
		t.Errorf("observations = %v after rewind, want none", observations)
	}

	if _, err := os.Stat(video); !os.IsNotExist(err) {
		t.Errorf("orphaned video %q still on disk", video)
	}

	// Rewinding again finds nothing to rewind.
	affected, err = svc.RewindBatches(ctx, []int64{batchID})
	if err != nil {
		t.Fatalf("RewindBatches() second call error = %v", err)
	}
	if len(affected) != 0 {
		t.Errorf("RewindBatches() second call affected = %v, want none", affected)
	}
}

func TestService_RewindDay(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	inDay, _ := seedAnalyzedBatch(t, stores, time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local))
	otherDay, _ := seedAnalyzedBatch(t, stores, time.Date(2025, 1, 16, 10, 0, 0, 0, time.Local))

	affected, err := svc.RewindDay(ctx, "2025-01-15")
	if err != nil {
		t.Fatalf("RewindDay() error = %v", err)
	}
	if len(affected) != 1 || affected[0] != inDay {
		t.Errorf("RewindDay() affected = %v, want [%d]", affected, inDay)
	}

	batch, err := stores.batches.GetBatch(ctx, otherDay)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if batch.Status != storage.BatchAnalyzed {
		t.Errorf("other day's batch status = %q, want untouched", batch.Status)
	}
}

func TestService_AsyncCaptureLifecycle(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	path, err := stores.captures.NextCapturePath(now)
	if err != nil {
		t.Fatalf("NextCapturePath() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("picture"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := stores.captures.Register(ctx, path, now.Unix()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	svc.CaptureCompleted(path)
	svc.Close() // drains the queue

	captures, err := stores.captures.FetchInRange(ctx, now.Unix(), now.Unix()+1)
	if err != nil {
		t.Fatalf("FetchInRange() error = %v", err)
	}
	if len(captures) != 1 {
		t.Fatalf("FetchInRange() count = %d, want 1", len(captures))
	}
	if captures[0].FileSize != int64(len("picture")) {
		t.Errorf("FileSize = %d, want recorded asynchronously", captures[0].FileSize)
	}
}

func TestService_AsyncBatchStatus(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	path, err := stores.captures.NextCapturePath(start)
	if err != nil {
		t.Fatalf("NextCapturePath() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	captureID, err := stores.captures.Register(ctx, path, start.Unix())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	batchID, err := stores.batches.CreateBatch(ctx, start.Unix(), start.Unix()+900, []int64{captureID})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	svc.SetBatchStatus(batchID, storage.BatchProcessing)
	svc.MarkBatchFailed(batchID, "provider unreachable")
	svc.Close()

	batch, err := stores.batches.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if batch.Status != storage.BatchFailed {
		t.Errorf("batch status = %q, want %q applied in order", batch.Status, storage.BatchFailed)
	}
	if batch.Reason != "provider unreachable" {
		t.Errorf("batch reason = %q, want recorded", batch.Reason)
	}
}
