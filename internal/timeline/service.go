// Package timeline is the service layer over the storage repos. It
// owns the async dispatch path for fire-and-forget writes and the
// cross-store protocols that no single repo may perform on its own.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"timelens/internal/storage"
)

// Service coordinates the storage repos for producers (capture, OCR,
// AI provider) and the query layer.
type Service struct {
	captures     storage.CaptureLedger
	batches      storage.BatchCoordinator
	observations storage.ObservationStore
	cards        storage.CardStore
	reviews      storage.ReviewStore
	llmCalls     storage.LLMCallLedger
	queue        *mutationQueue
}

// New creates the service. Call Close on shutdown to drain pending
// async writes.
func New(
	captures storage.CaptureLedger,
	batches storage.BatchCoordinator,
	observations storage.ObservationStore,
	cards storage.CardStore,
	reviews storage.ReviewStore,
	llmCalls storage.LLMCallLedger,
) *Service {
	return &Service{
		captures:     captures,
		batches:      batches,
		observations: observations,
		cards:        cards,
		reviews:      reviews,
		llmCalls:     llmCalls,
		queue:        newMutationQueue(256),
	}
}

// Close drains the async write queue.
func (s *Service) Close() {
	s.queue.Close()
}

// Captures returns the capture ledger for collaborators that need
// synchronous access (registration returns the new id).
func (s *Service) Captures() storage.CaptureLedger { return s.captures }

// Batches returns the batch coordinator.
func (s *Service) Batches() storage.BatchCoordinator { return s.batches }

// Observations returns the observation store.
func (s *Service) Observations() storage.ObservationStore { return s.observations }

// Cards returns the timeline card store.
func (s *Service) Cards() storage.CardStore { return s.cards }

// LLMCalls returns the AI-call audit ledger.
func (s *Service) LLMCalls() storage.LLMCallLedger { return s.llmCalls }

// CaptureCompleted asynchronously records a capture's final size.
// Best effort: a failed write is logged, not retried.
func (s *Service) CaptureCompleted(path string) {
	s.queue.enqueue(func(ctx context.Context) {
		if err := s.captures.MarkCompleted(ctx, path); err != nil {
			slog.Warn("failed to mark capture completed", "path", path, "error", err)
		}
	})
}

// CaptureFailed asynchronously removes a failed capture's row and file.
func (s *Service) CaptureFailed(path string) {
	s.queue.enqueue(func(ctx context.Context) {
		if err := s.captures.MarkFailed(ctx, path); err != nil {
			slog.Warn("failed to discard failed capture", "path", path, "error", err)
		}
	})
}

// SetBatchStatus asynchronously advances a batch's lifecycle state.
func (s *Service) SetBatchStatus(batchID int64, status storage.BatchStatus) {
	s.queue.enqueue(func(ctx context.Context) {
		if err := s.batches.SetStatus(ctx, batchID, status); err != nil {
			slog.Warn("failed to set batch status", "batch_id", batchID, "status", status, "error", err)
		}
	})
}

// MarkBatchFailed asynchronously fails a batch with a reason.
func (s *Service) MarkBatchFailed(batchID int64, reason string) {
	s.queue.enqueue(func(ctx context.Context) {
		if err := s.batches.MarkFailed(ctx, batchID, reason); err != nil {
			slog.Warn("failed to mark batch failed", "batch_id", batchID, "error", err)
		}
	})
}

// RewindBatches fully rewinds batches for reprocessing: derived cards
// and observations are deleted, orphaned card videos are removed from
// disk, and the batches return to pending. The two derived-data steps
// are explicit rather than a cascade so callers that want to keep
// prior output for inspection can call Reset on the coordinator alone.
func (s *Service) RewindBatches(ctx context.Context, batchIDs []int64) ([]int64, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	orphaned, err := s.cards.DeleteForBatches(ctx, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete cards for rewind: %w", err)
	}
	s.removeVideos(orphaned)

	if err := s.observations.DeleteForBatches(ctx, batchIDs); err != nil {
		return nil, fmt.Errorf("failed to delete observations for rewind: %w", err)
	}

	affected, err := s.batches.Reset(ctx, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to reset batches: %w", err)
	}
	return affected, nil
}

// RewindDay rewinds every batch of a 4AM-boundary day.
func (s *Service) RewindDay(ctx context.Context, day string) ([]int64, error) {
	batchIDs, err := s.batches.BatchIDsForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	return s.RewindBatches(ctx, batchIDs)
}

// removeVideos garbage-collects card video files orphaned by a soft
// delete. The card store never touches the filesystem itself.
func (s *Service) removeVideos(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove orphaned video", "path", p, "error", err)
		}
	}
}

// CardsForDay returns a day's active cards ordered by start time.
func (s *Service) CardsForDay(ctx context.Context, day string) ([]storage.TimelineCard, error) {
	return s.cards.FetchForDay(ctx, day)
}

// TrackedMinutes sums card time over [from, to).
func (s *Service) TrackedMinutes(ctx context.Context, from, to int64) (int64, error) {
	return s.cards.TrackedMinutes(ctx, from, to)
}

// UnreviewedCount counts a day's under-reviewed cards.
func (s *Service) UnreviewedCount(ctx context.Context, day string) (int, error) {
	return s.cards.UnreviewedCount(ctx, day, 0)
}

// ApplyRating assigns a review rating over a time range.
func (s *Service) ApplyRating(ctx context.Context, startTs, endTs int64, rating string) error {
	return s.reviews.ApplyRating(ctx, startTs, endTs, rating)
}
