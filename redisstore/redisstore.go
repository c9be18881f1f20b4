// Package redisstore provides a Redis-backed checkpoint store. Per-thread
// sequence numbers come from INCR, so concurrent writers for different
// threads never contend and writers for the same thread always see strictly
// increasing sequences.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complyflow/orchestrator"
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// KeyPrefix defaults to "orchestrator:"
	KeyPrefix string

	// TTL, when positive, expires checkpoint keys after the duration.
	// Zero keeps them until explicit deletion.
	TTL time.Duration
}

// Store is a CheckpointStore backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ orchestrator.CheckpointStore = (*Store)(nil)
var _ orchestrator.CheckpointDeleter = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, opts Options) *Store {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "orchestrator:"
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) seqKey(threadID string) string {
	return s.prefix + "seq:" + threadID
}

func (s *Store) checkpointKey(threadID string, sequence int64) string {
	return fmt.Sprintf("%scheckpoint:%s:%d", s.prefix, threadID, sequence)
}

func (s *Store) latestKey(threadID string) string {
	return s.prefix + "latest:" + threadID
}

// Save writes a checkpoint and returns its sequence number. INCR on the
// per-thread counter assigns the sequence atomically.
func (s *Store) Save(ctx context.Context, threadID string, state orchestrator.StateSnapshot) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread id is required")
	}
	sequence, err := s.client.Incr(ctx, s.seqKey(threadID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence for thread %s: %w", threadID, err)
	}

	checkpoint := orchestrator.Checkpoint{
		ThreadID:  threadID,
		Sequence:  sequence,
		State:     state,
		WrittenAt: time.Now(),
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(threadID, sequence), data, s.ttl)
	pipe.Set(ctx, s.latestKey(threadID), data, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.seqKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to write checkpoint %s/%d: %w", threadID, sequence, err)
	}
	return sequence, nil
}

// LoadLatest returns the newest checkpoint for the thread.
func (s *Store) LoadLatest(ctx context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.latestKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, orchestrator.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint for thread %s: %w", threadID, err)
	}
	var checkpoint orchestrator.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for thread %s: %w", threadID, err)
	}
	return &checkpoint, nil
}

// Exists reports whether the thread has at least one checkpoint.
func (s *Store) Exists(ctx context.Context, threadID string) (bool, error) {
	count, err := s.client.Exists(ctx, s.latestKey(threadID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check thread %s: %w", threadID, err)
	}
	return count > 0, nil
}

// DeleteThread removes all checkpoints and the sequence counter for the
// thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	pattern := fmt.Sprintf("%scheckpoint:%s:*", s.prefix, threadID)
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to scan checkpoints for thread %s: %w", threadID, err)
	}
	keys = append(keys, s.latestKey(threadID), s.seqKey(threadID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}
