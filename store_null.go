package orchestrator

import (
	"context"
	"sync/atomic"
)

// NullCheckpointStore discards all checkpoints. Runs using it cannot be
// resumed.
type NullCheckpointStore struct {
	sequence atomic.Int64
}

// NewNullCheckpointStore creates a checkpoint store that stores nothing
func NewNullCheckpointStore() *NullCheckpointStore {
	return &NullCheckpointStore{}
}

func (s *NullCheckpointStore) Save(ctx context.Context, threadID string, state StateSnapshot) (int64, error) {
	return s.sequence.Add(1), nil
}

func (s *NullCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (s *NullCheckpointStore) Exists(ctx context.Context, threadID string) (bool, error) {
	return false, nil
}
