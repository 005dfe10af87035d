package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/victorivanov/permd/internal/store"
)

// SnapshotSource is the part of the store the checkpointer reads.
type SnapshotSource interface {
	Snapshot() *store.Snapshot
	Subscribe() (<-chan uint64, func())
}

// Checkpointer saves the mirror whenever it changed, at most once per
// interval.
type Checkpointer struct {
	repo     SnapshotRepository
	source   SnapshotSource
	interval time.Duration

	lastSaved uint64
}

func NewCheckpointer(repo SnapshotRepository, source SnapshotSource, interval time.Duration) *Checkpointer {
	return &Checkpointer{repo: repo, source: source, interval: interval}
}

// Run saves until ctx is cancelled, then makes one final save of any
// unsaved changes.
func (c *Checkpointer) Run(ctx context.Context) {
	versions, cancel := c.source.Subscribe()
	defer cancel()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Changes published before Subscribe only show up in the version.
	dirty := c.source.Snapshot().Version != c.lastSaved
	for {
		select {
		case <-versions:
			dirty = true
		case <-ticker.C:
			if dirty && c.save(ctx) {
				dirty = false
			}
		case <-ctx.Done():
			if dirty {
				final, done := context.WithTimeout(context.Background(), 30*time.Second)
				c.save(final)
				done()
			}
			return
		}
	}
}

func (c *Checkpointer) save(ctx context.Context) bool {
	snap := c.source.Snapshot()
	if snap.Version == c.lastSaved {
		return true
	}
	start := time.Now()
	if err := c.repo.Save(ctx, snap); err != nil {
		slog.Error("checkpoint failed", "version", snap.Version, "error", err)
		return false
	}
	c.lastSaved = snap.Version
	slog.Info("checkpoint saved", "version", snap.Version, "duration", time.Since(start))
	return true
}
