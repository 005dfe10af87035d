package database

import (
	"context"
	"errors"
	"time"

	"github.com/victorivanov/permd/internal/store"
)

// ErrNoCheckpoint is returned by Load when nothing has been saved yet.
var ErrNoCheckpoint = errors.New("database: no checkpoint")

// Checkpoint describes the saved mirror.
type Checkpoint struct {
	Version  uint64    `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Users    int       `json:"users"`
	Servers  int       `json:"servers"`
	Channels int       `json:"channels"`
	Members  int       `json:"members"`
}

type SnapshotRepository interface {
	// Save replaces the stored mirror with snap.
	Save(ctx context.Context, snap *store.Snapshot) error
	// Load returns the stored mirror as a Ready update.
	Load(ctx context.Context) (store.Ready, Checkpoint, error)
	// Latest describes the stored mirror without loading it.
	Latest(ctx context.Context) (Checkpoint, error)
}
