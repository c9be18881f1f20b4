package orchestrator

import (
	"context"
	"sync"
	"time"
)

// MemoryCheckpointStore keeps checkpoint chains in process memory. It is
// the default store for tests and for callers that opt out of durability.
type MemoryCheckpointStore struct {
	mutex   sync.Mutex
	threads map[string][]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{threads: map[string][]*Checkpoint{}}
}

// Save appends a snapshot to the thread's chain under the store mutex,
// which is the per-thread serialization point for sequence assignment.
func (s *MemoryCheckpointStore) Save(ctx context.Context, threadID string, state StateSnapshot) (int64, error) {
	if err := state.Validate(); err != nil {
		return 0, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	chain := s.threads[threadID]
	seq := int64(len(chain)) + 1
	s.threads[threadID] = append(chain, &Checkpoint{
		ThreadID:  threadID,
		Sequence:  seq,
		State:     state,
		WrittenAt: time.Now(),
	})
	return seq, nil
}

// LoadLatest returns the highest-sequence checkpoint for a thread
func (s *MemoryCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	chain := s.threads[threadID]
	if len(chain) == 0 {
		return nil, ErrNoCheckpoint
	}
	latest := *chain[len(chain)-1]
	return &latest, nil
}

// Exists reports whether the thread has any checkpoint
func (s *MemoryCheckpointStore) Exists(ctx context.Context, threadID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.threads[threadID]) > 0, nil
}

// DeleteThread removes a thread's entire checkpoint chain
func (s *MemoryCheckpointStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.threads, threadID)
	return nil
}

// History returns a copy of a thread's full checkpoint chain, oldest first.
// Useful for audit and tests.
func (s *MemoryCheckpointStore) History(threadID string) []*Checkpoint {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	chain := s.threads[threadID]
	history := make([]*Checkpoint, len(chain))
	for i, cp := range chain {
		copied := *cp
		history[i] = &copied
	}
	return history
}
