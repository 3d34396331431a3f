package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Status is the result of an integrity check.
type Status struct {
	Healthy  bool
	ReadOnly bool
	Corrupt  bool
}

// IntegrityCheck probes the store with a lightweight write-then-rollback
// probe. A read-only error from the probe marks the store read-only and
// healthy. Any other failure triggers one recovery attempt: record the
// reason in the vectorstore_recovery_log table (see snapshot), then ping the
// pool again; if that still fails the store is marked corrupt and read-only.
//
// Grounded on original_source/backend/src/db_handler.py's
// _integrity_verify_and_recover / _backup_database_dir — adapted from a
// Chroma/sqlite directory check to a Postgres write probe, since this
// store's persistence is a relational database rather than a directory of
// files. No data is copied before recovery: no backup directory is written
// and no row counts are recorded, only the reason and a timestamp.
func (s *Store) IntegrityCheck(ctx context.Context) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		return s.recover(ctx, "ping_failed", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.recover(ctx, "begin_failed", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE IF NOT EXISTS _integrity_probe (id int)`); err != nil {
		if isReadOnlyError(err) {
			s.readOnly = true
			return Status{Healthy: true, ReadOnly: true}, nil
		}
		return s.recover(ctx, "write_probe_failed", err)
	}

	s.readOnly = false
	s.corrupt.Store(false)
	return Status{Healthy: true}, nil
}

func (s *Store) recover(ctx context.Context, reason string, cause error) (Status, error) {
	if err := s.snapshot(ctx, reason); err != nil {
		// Recovery itself failed: degrade to read-only rather than fail the
		// whole process.
		s.readOnly = true
		s.corrupt.Store(true)
		return Status{Corrupt: true, ReadOnly: true}, fmt.Errorf("vectorstore.IntegrityCheck: recovery failed: %w (original: %v)", err, cause)
	}

	if err := s.pool.Ping(ctx); err != nil {
		s.readOnly = true
		s.corrupt.Store(true)
		return Status{Corrupt: true, ReadOnly: true}, nil
	}

	s.readOnly = false
	s.corrupt.Store(false)
	return Status{Healthy: true}, nil
}

// snapshot records a recovery-attempt marker row (reason and timestamp) in
// an append-only table rather than a filesystem directory, since this store's
// state lives in Postgres, not on disk.
func (s *Store) snapshot(ctx context.Context, reason string) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vectorstore_recovery_log (
			id SERIAL PRIMARY KEY,
			reason TEXT NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("vectorstore.snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vectorstore_recovery_log (reason) VALUES ($1)`, reason)
	if err != nil {
		return fmt.Errorf("vectorstore.snapshot: %w", err)
	}
	return nil
}

// ReadOnly reports whether the store has degraded to read-only mode.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Corrupt reports whether the last IntegrityCheck found the store corrupt
// (recovery attempted, connectivity still failing). Consulted by the
// Retrieval Planner at request time so a store that degrades mid-process
// surfaces as vector_store_unavailable instead of a generic failure.
func (s *Store) Corrupt() bool { return s.corrupt.Load() }

func isReadOnlyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 25006 = read_only_sql_transaction
		return pgErr.Code == "25006"
	}
	return false
}
