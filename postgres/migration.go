package postgres

import (
	"context"
	"fmt"
	"sort"
)

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE checkpoints (
				thread_id VARCHAR(255) NOT NULL,
				seq BIGINT NOT NULL,
				state JSONB NOT NULL,
				written_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (thread_id, seq)
			);

			CREATE INDEX idx_checkpoints_written_at ON checkpoints(written_at);
		`,
	}
}

// migrate applies pending schema migrations in version order. Each version
// runs in its own transaction alongside its schema_migrations row, so a
// failed migration leaves the version table consistent.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	err = s.db.QueryRowContext(ctx,
		`SELECT coalesce(max(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	pending := migrations()
	versions := make([]int, 0, len(pending))
	for version := range pending {
		if version > current {
			versions = append(versions, version)
		}
	}
	sort.Ints(versions)

	for _, version := range versions {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, pending[version]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
		s.logger.Info("applied schema migration", "version", version)
	}
	return nil
}
