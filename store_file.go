package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileCheckpointStore persists checkpoints to disk, one directory per
// thread with sequence-numbered JSON files and a "latest.json" copy.
type FileCheckpointStore struct {
	dataDir string

	// Serializes writers per thread so sequence numbers stay strictly
	// increasing even if the engine is invoked concurrently for one thread.
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileCheckpointStore creates a file-based checkpoint store rooted at
// dataDir, defaulting to ~/.complyflow/orchestrator/threads.
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".complyflow", "orchestrator", "threads")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointStore{
		dataDir: dataDir,
		locks:   map[string]*sync.Mutex{},
	}, nil
}

func (s *FileCheckpointStore) threadLock(threadID string) *sync.Mutex {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	lock, ok := s.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[threadID] = lock
	}
	return lock
}

// Save writes the snapshot as the next sequence-numbered file for the thread
func (s *FileCheckpointStore) Save(ctx context.Context, threadID string, state StateSnapshot) (int64, error) {
	if err := state.Validate(); err != nil {
		return 0, err
	}

	lock := s.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	threadDir := filepath.Join(s.dataDir, threadID)
	if err := os.MkdirAll(threadDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create thread directory: %w", err)
	}

	seq, err := s.nextSequence(threadDir)
	if err != nil {
		return 0, err
	}

	checkpoint := &Checkpoint{
		ThreadID:  threadID,
		Sequence:  seq,
		State:     state,
		WrittenAt: time.Now(),
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	checkpointPath := filepath.Join(threadDir, fmt.Sprintf("checkpoint-%08d.json", seq))
	if err := os.WriteFile(checkpointPath, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	// The latest pointer is a plain copy so readers never chase symlinks
	latestPath := filepath.Join(threadDir, "latest.json")
	if err := os.WriteFile(latestPath, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to update latest checkpoint: %w", err)
	}
	return seq, nil
}

// nextSequence scans the thread directory for the highest existing sequence
func (s *FileCheckpointStore) nextSequence(threadDir string) (int64, error) {
	entries, err := os.ReadDir(threadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read thread directory: %w", err)
	}
	var highest int64
	for _, entry := range entries {
		var seq int64
		if _, err := fmt.Sscanf(entry.Name(), "checkpoint-%d.json", &seq); err == nil {
			if seq > highest {
				highest = seq
			}
		}
	}
	return highest + 1, nil
}

// LoadLatest reads the latest checkpoint for a thread
func (s *FileCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	latestPath := filepath.Join(s.dataDir, threadID, "latest.json")
	data, err := os.ReadFile(latestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Exists reports whether the thread has a stored checkpoint
func (s *FileCheckpointStore) Exists(ctx context.Context, threadID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dataDir, threadID, "latest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteThread removes all checkpoint data for a thread
func (s *FileCheckpointStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := os.RemoveAll(filepath.Join(s.dataDir, threadID)); err != nil {
		return fmt.Errorf("failed to delete thread directory: %w", err)
	}
	return nil
}

// ListThreads returns summaries for all threads with stored checkpoints,
// newest first.
func (s *FileCheckpointStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ThreadSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read threads directory: %w", err)
	}

	var summaries []ThreadSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := s.LoadLatest(ctx, entry.Name())
		if err != nil {
			// Skip threads we can't read
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}
