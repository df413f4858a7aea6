package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const backupPrefix = "timelens-"

// DurabilityOptions configures the background durability loop.
type DurabilityOptions struct {
	BackupDir          string
	BackupRetain       int           // snapshots kept, oldest pruned first
	BackupInterval     time.Duration // 0 disables backups
	CheckpointInterval time.Duration // 0 disables checkpoints
}

// Durability owns WAL checkpointing, rotating backup snapshots, and
// periodic integrity verification.
type Durability struct {
	db   *sql.DB
	opts DurabilityOptions
}

// NewDurability creates a new Durability controller.
func NewDurability(db *sql.DB, opts DurabilityOptions) *Durability {
	if opts.BackupRetain <= 0 {
		opts.BackupRetain = 3
	}
	return &Durability{db: db, opts: opts}
}

// Checkpoint truncates the WAL into the main database file.
func (d *Durability) Checkpoint(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint wal: %w", err)
	}
	return nil
}

// Backup takes a full snapshot via VACUUM INTO and prunes old
// snapshots down to the retain count. Transient failures are retried
// with exponential backoff before giving up for this cycle.
func (d *Durability) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.opts.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + time.Now().Format("20060102-150405.000") + ".db"
	dst := filepath.Join(d.opts.BackupDir, name)

	op := func() error {
		// VACUUM INTO refuses to overwrite; clear a partial snapshot
		// from an earlier failed attempt.
		_ = os.Remove(dst)
		_, err := d.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dst, "'", "''")))
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	d.prune()
	return dst, nil
}

// prune removes the oldest snapshots beyond the retain count.
func (d *Durability) prune() {
	entries, err := os.ReadDir(d.opts.BackupDir)
	if err != nil {
		slog.Warn("failed to list backup directory", "dir", d.opts.BackupDir, "error", err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > d.opts.BackupRetain {
		victim := filepath.Join(d.opts.BackupDir, names[0])
		if err := os.Remove(victim); err != nil {
			slog.Warn("failed to prune backup", "path", victim, "error", err)
		}
		names = names[1:]
	}
}

// Run drives the checkpoint and backup timers until ctx is cancelled.
// The loops are independent of other background work; an in-flight
// operation completes before Run returns.
func (d *Durability) Run(ctx context.Context) {
	checkpoint := newTicker(d.opts.CheckpointInterval)
	backup := newTicker(d.opts.BackupInterval)
	defer checkpoint.Stop()
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkpoint.C:
			if err := d.Checkpoint(ctx); err != nil {
				slog.Warn("wal checkpoint failed", "error", err)
			}
		case <-backup.C:
			path, err := d.Backup(ctx)
			if err != nil {
				slog.Warn("backup failed", "error", err)
				continue
			}
			slog.Info("backup snapshot written", "path", path)
			if err := IntegrityCheck(d.db); err != nil {
				slog.Error("integrity check failed", "error", err)
			}
		}
	}
}

// newTicker returns a ticker that never fires for non-positive
// intervals.
func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(interval)
}
