// Package retention enforces the on-disk storage cap for capture files
// by continuously evicting the least-recently-captured data.
package retention

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"timelens/internal/storage"
)

const (
	// evictionPageSize bounds how many captures one purge pass touches.
	evictionPageSize = 50
	// maxPasses guards against a purge loop that never converges.
	maxPasses = 100
)

// Enforcer deletes the oldest capture files and rows once disk usage
// exceeds the configured cap. Rows are soft-deleted before their files
// are removed: a crash in between leaves a deleted row pointing at a
// leftover file (cleaned by the next straggler sweep) rather than an
// active row pointing at nothing.
type Enforcer struct {
	ledger     storage.CaptureLedger
	captureDir string
	limitBytes int64 // 0 means unlimited
	interval   time.Duration
}

// New creates an Enforcer over the given capture ledger and directory.
func New(ledger storage.CaptureLedger, captureDir string, limitBytes int64, interval time.Duration) *Enforcer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Enforcer{
		ledger:     ledger,
		captureDir: captureDir,
		limitBytes: limitBytes,
		interval:   interval,
	}
}

// Run sweeps on a recurring timer until ctx is cancelled. An in-flight
// sweep finishes before Run returns.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs one full enforcement cycle: straggler cleanup, usage
// measurement, bounded eviction passes, and a final straggler cleanup.
func (e *Enforcer) Sweep(ctx context.Context) {
	if e.limitBytes <= 0 {
		return
	}

	e.sweepStragglers(ctx)

	usage := e.diskUsage()
	passes := 0
	for usage > e.limitBytes && passes < maxPasses {
		freed, evicted := e.evictOldest(ctx, usage-e.limitBytes)
		if evicted == 0 || freed == 0 {
			break
		}
		usage -= freed
		passes++
	}
	if usage > e.limitBytes {
		slog.Warn("storage still over cap after eviction", "usage_bytes", usage, "limit_bytes", e.limitBytes)
	}

	e.sweepStragglers(ctx)
}

// sweepStragglers removes files under the capture root that no active
// ledger row references. With zero active captures everything goes:
// the ledger is authoritative and an empty ledger means the directory
// should be empty too.
func (e *Enforcer) sweepStragglers(ctx context.Context) {
	count, err := e.ledger.ActiveCount(ctx)
	if err != nil {
		slog.Warn("straggler sweep skipped", "error", err)
		return
	}

	var active map[string]struct{}
	if count > 0 {
		active, err = e.ledger.ActivePaths(ctx)
		if err != nil {
			slog.Warn("straggler sweep skipped", "error", err)
			return
		}
	}

	_ = filepath.WalkDir(e.captureDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := active[path]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove straggler file", "path", path, "error", err)
		}
		return nil
	})
}

// evictOldest soft-deletes the oldest active captures, up to one page,
// stopping once excess bytes have been freed. Files are removed
// best-effort after their rows. Returns the bytes freed and rows
// evicted.
func (e *Enforcer) evictOldest(ctx context.Context, excess int64) (int64, int) {
	captures, err := e.ledger.OldestActive(ctx, evictionPageSize)
	if err != nil {
		slog.Warn("eviction pass failed", "error", err)
		return 0, 0
	}
	if len(captures) == 0 {
		return 0, 0
	}

	var freed int64
	evicted := 0
	for _, c := range captures {
		if freed >= excess {
			break
		}
		if err := e.ledger.SoftDelete(ctx, c.ID); err != nil {
			slog.Warn("failed to soft-delete capture", "id", c.ID, "error", err)
			continue
		}
		evicted++

		size := c.FileSize
		if size == 0 {
			if info, err := os.Stat(c.FilePath); err == nil {
				size = info.Size()
			}
		}
		if err := os.Remove(c.FilePath); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("failed to remove capture file", "path", c.FilePath, "error", err)
			}
			continue
		}
		freed += size
	}
	return freed, evicted
}

// diskUsage totals file sizes under the capture root.
func (e *Enforcer) diskUsage() int64 {
	var total int64
	_ = filepath.WalkDir(e.captureDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
