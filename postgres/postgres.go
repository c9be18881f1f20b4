// Package postgres provides a PostgreSQL-backed checkpoint store. Sequence
// numbers are assigned inside the insert transaction, so the database is the
// per-thread serialization point even across processes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/complyflow/orchestrator"
)

// Store is a CheckpointStore backed by PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ orchestrator.CheckpointStore = (*Store)(nil)
var _ orchestrator.CheckpointDeleter = (*Store)(nil)

// New connects to the database, runs migrations, and returns the store.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	store := &Store{db: db, logger: logger}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool and runs migrations.
func NewWithDB(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	store := &Store{db: db, logger: logger}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Save inserts a checkpoint inside a transaction. A per-thread advisory lock
// serializes concurrent writers on the same thread, which keeps sequences
// strictly increasing without collisions on the primary key.
func (s *Store) Save(ctx context.Context, threadID string, state orchestrator.StateSnapshot) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return 0, fmt.Errorf("failed to lock thread %s: %w", threadID, err)
	}

	var sequence int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO checkpoints (thread_id, seq, state, written_at)
		SELECT $1, coalesce(max(seq), 0) + 1, $2, $3
		FROM checkpoints WHERE thread_id = $1
		RETURNING seq`,
		threadID, data, time.Now()).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint for thread %s: %w", threadID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint for thread %s: %w", threadID, err)
	}
	return sequence, nil
}

// LoadLatest returns the highest-sequence checkpoint for the thread.
func (s *Store) LoadLatest(ctx context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	var (
		data      []byte
		sequence  int64
		writtenAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, state, written_at FROM checkpoints
		WHERE thread_id = $1
		ORDER BY seq DESC LIMIT 1`,
		threadID).Scan(&sequence, &data, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for thread %s: %w", threadID, err)
	}

	var state orchestrator.StateSnapshot
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state for thread %s: %w", threadID, err)
	}
	return &orchestrator.Checkpoint{
		ThreadID:  threadID,
		Sequence:  sequence,
		State:     state,
		WrittenAt: writtenAt,
	}, nil
}

// Exists reports whether the thread has any checkpoint rows.
func (s *Store) Exists(ctx context.Context, threadID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM checkpoints WHERE thread_id = $1)`,
		threadID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check thread %s: %w", threadID, err)
	}
	return exists, nil
}

// DeleteThread removes a thread's entire checkpoint chain.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// ListThreads returns a summary of the latest checkpoint per thread, newest
// first.
func (s *Store) ListThreads(ctx context.Context) ([]orchestrator.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (thread_id) thread_id, seq, state, written_at
		FROM checkpoints
		ORDER BY thread_id, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var summaries []orchestrator.ThreadSummary
	for rows.Next() {
		var (
			checkpoint orchestrator.Checkpoint
			data       []byte
		)
		if err := rows.Scan(&checkpoint.ThreadID, &checkpoint.Sequence, &data, &checkpoint.WrittenAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		if err := json.Unmarshal(data, &checkpoint.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state for thread %s: %w", checkpoint.ThreadID, err)
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return summaries, nil
}
