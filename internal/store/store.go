package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrStopped is returned when the writer goroutine is no longer running.
var ErrStopped = errors.New("store: stopped")

type request struct {
	update Update
	done   chan uint64 // nil for fire-and-forget submissions
}

// Store mirrors upstream entities. A single goroutine (Run) applies
// updates in arrival order and publishes an immutable Snapshot after each
// one; any number of readers may call Snapshot concurrently.
type Store struct {
	current  atomic.Pointer[Snapshot]
	requests chan request
	stopped  chan struct{}

	mu          sync.Mutex
	subscribers map[chan uint64]struct{}
}

// New creates a store holding an empty snapshot at version 0 under a
// fresh epoch.
func New() *Store {
	s := &Store{
		requests:    make(chan request, 256),
		stopped:     make(chan struct{}),
		subscribers: make(map[chan uint64]struct{}),
	}
	snap := emptySnapshot()
	snap.Epoch = uuid.NewString()
	s.current.Store(snap)
	return s
}

// Snapshot returns the most recently published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Run applies queued updates until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			v := s.apply(req.update)
			if req.done != nil {
				req.done <- v
			}
		}
	}
}

func (s *Store) apply(u Update) uint64 {
	prev := s.current.Load()
	next := *prev
	next.Version = prev.Version + 1
	u.apply(&txn{s: &next})
	s.current.Store(&next)

	slog.Debug("store update applied", "kind", u.Kind(), "version", next.Version)
	s.notify(next.Version)
	return next.Version
}

// Submit queues u for the writer. It blocks until the update is queued,
// ctx is done, or the store stops.
func (s *Store) Submit(ctx context.Context, u Update) error {
	select {
	case s.requests <- request{update: u}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

// Apply queues u and waits until it is visible, returning the version
// of the snapshot that first contains it.
func (s *Store) Apply(ctx context.Context, u Update) (uint64, error) {
	done := make(chan uint64, 1)
	select {
	case s.requests <- request{update: u, done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.stopped:
		return 0, ErrStopped
	}
	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.stopped:
		// The writer may have applied the update just before stopping.
		select {
		case v := <-done:
			return v, nil
		default:
			return 0, ErrStopped
		}
	}
}

// Subscribe returns a channel that receives the version of each newly
// published snapshot. Slow subscribers only see the latest version; the
// returned function unsubscribes.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- version:
			continue
		default:
		}
		// Replace the pending version with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- version:
		default:
		}
	}
}
