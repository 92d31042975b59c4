// Package postgres stores ingestion records in PostgreSQL and streams their
// changes through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and applies migrations.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// WipeData deletes every record. Testing only.
func (s *Store) WipeData(ctx context.Context) error {
	s.logger.Warn("wiping all data from database")
	if _, err := s.pool.Exec(ctx, "TRUNCATE ingestion_records"); err != nil {
		return fmt.Errorf("truncate ingestion_records: %w", err)
	}
	return nil
}
