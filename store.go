package orchestrator

import (
	"context"
	"errors"
)

// ErrNoCheckpoint is returned by LoadLatest when a thread has no stored
// checkpoint. Callers use it to decide "start fresh" versus "error".
var ErrNoCheckpoint = errors.New("no checkpoint found for thread")

// CheckpointStore persists workflow state snapshots keyed by thread.
//
// Save must be atomic with respect to concurrent writers for the same
// thread: sequence numbers are strictly increasing per thread, enforced by
// a per-thread serialization point. Implementations do not retry failed
// writes internally; the engine retries a bounded number of times before
// surfacing a fatal run failure.
type CheckpointStore interface {
	// Save writes a snapshot and returns its assigned sequence number.
	Save(ctx context.Context, threadID string, state StateSnapshot) (int64, error)

	// LoadLatest returns the highest-sequence checkpoint for a thread, or
	// ErrNoCheckpoint if none exists.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Exists reports whether any checkpoint exists for a thread.
	Exists(ctx context.Context, threadID string) (bool, error)
}

// CheckpointDeleter is implemented by stores that support explicit cleanup
// of a thread's checkpoint chain. The engine never deletes checkpoints
// itself; expiry is an operator policy.
type CheckpointDeleter interface {
	DeleteThread(ctx context.Context, threadID string) error
}
