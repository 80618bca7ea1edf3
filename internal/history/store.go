// Package history persists periodic snapshots of the runtime's table
// statistics and transaction counters to PostgreSQL, so operators can
// inspect growth trends beyond what a Prometheus retention window keeps.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/errors"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

const (
	defaultMaxOpenConns = 5
	defaultMaxIdleConns = 2
	connMaxLifetime     = 5 * time.Minute
)

// schema is applied on connect. Snapshots are append-only; pruning is
// the only delete path.
const schema = `
CREATE TABLE IF NOT EXISTS table_snapshots (
	id           BIGSERIAL PRIMARY KEY,
	taken_at     TIMESTAMPTZ NOT NULL,
	table_name   TEXT NOT NULL,
	memory_bytes BIGINT NOT NULL,
	row_count    BIGINT NOT NULL,
	available    BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_table_snapshots_taken_at ON table_snapshots (taken_at);

CREATE TABLE IF NOT EXISTS counter_snapshots (
	id         BIGSERIAL PRIMARY KEY,
	taken_at   TIMESTAMPTZ NOT NULL,
	failures   BIGINT NOT NULL,
	commits    BIGINT NOT NULL,
	log_writes BIGINT NOT NULL,
	restarts   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_counter_snapshots_taken_at ON counter_snapshots (taken_at);
`

// sanitizeError converts raw database errors into errors safe to log
// and surface without leaking DSN or SQL details. The original error
// stays reachable through Unwrap.
func sanitizeError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		herr := errors.NewHistoryError(errors.CodeHistoryQuery, "No snapshots found")
		herr.Operation = operation
		return herr
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var herr *errors.HistoryError
		switch pqErr.Code {
		case "57014":
			herr = errors.NewHistoryError(errors.CodeHistoryQuery, "History operation was canceled")
		case "57P01", "08000", "08003", "08006":
			herr = errors.NewHistoryError(errors.CodeHistoryConnection, "History store connection lost")
		default:
			herr = errors.NewHistoryError(errors.CodeHistoryQuery,
				fmt.Sprintf("History operation failed: %s", operation))
		}
		herr.Operation = operation
		herr.Cause = err
		return herr
	}

	herr := errors.NewHistoryError(errors.CodeHistoryQuery,
		fmt.Sprintf("History operation failed: %s", operation))
	herr.Operation = operation
	herr.Cause = err
	return herr
}

// Store is the snapshot store over a PostgreSQL connection.
type Store struct {
	db *sqlx.DB
}

// Connect opens the history database and applies the schema. Errors
// never carry the DSN.
func Connect(ctx context.Context, cfg *config.Config) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.HistoryDSN())
	if err != nil {
		return nil, errors.ErrHistoryConnection(err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, sanitizeError("apply schema", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection, for tests.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return sanitizeError("close", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return sanitizeError("ping", err)
	}
	return nil
}

// TableSnapshot is one stored per-table observation.
type TableSnapshot struct {
	ID          int64     `db:"id" json:"id"`
	TakenAt     time.Time `db:"taken_at" json:"taken_at"`
	TableName   string    `db:"table_name" json:"table_name"`
	MemoryBytes int64     `db:"memory_bytes" json:"memory_bytes"`
	RowCount    int64     `db:"row_count" json:"row_count"`
	Available   bool      `db:"available" json:"available"`
}

// CounterSnapshot is one stored transaction counter observation.
type CounterSnapshot struct {
	ID        int64     `db:"id" json:"id"`
	TakenAt   time.Time `db:"taken_at" json:"taken_at"`
	Failures  int64     `db:"failures" json:"failures"`
	Commits   int64     `db:"commits" json:"commits"`
	LogWrites int64     `db:"log_writes" json:"log_writes"`
	Restarts  int64     `db:"restarts" json:"restarts"`
}

// RecordSnapshot stores one observation of every table plus the counter
// set, in a single transaction stamped with one timestamp.
func (s *Store) RecordSnapshot(ctx context.Context, takenAt time.Time, stats []runtime.TableStats, counters runtime.TxCounters, wordSize int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeError("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stat := range stats {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO table_snapshots (taken_at, table_name, memory_bytes, row_count, available)
			 VALUES ($1, $2, $3, $4, $5)`,
			takenAt, stat.Name, stat.MemoryWords*int64(wordSize), stat.Size, stat.Available)
		if err != nil {
			return sanitizeError("insert table snapshot", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO counter_snapshots (taken_at, failures, commits, log_writes, restarts)
		 VALUES ($1, $2, $3, $4, $5)`,
		takenAt, int64(counters.Failures), int64(counters.Commits),
		int64(counters.LogWrites), int64(counters.Restarts))
	if err != nil {
		return sanitizeError("insert counter snapshot", err)
	}

	if err := tx.Commit(); err != nil {
		return sanitizeError("commit snapshot", err)
	}
	return nil
}

// RecentTableSnapshots returns the newest snapshots for one table.
func (s *Store) RecentTableSnapshots(ctx context.Context, table string, limit int) ([]TableSnapshot, error) {
	var out []TableSnapshot
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, taken_at, table_name, memory_bytes, row_count, available
		 FROM table_snapshots
		 WHERE table_name = $1
		 ORDER BY taken_at DESC
		 LIMIT $2`,
		table, limit)
	if err != nil {
		return nil, sanitizeError("select table snapshots", err)
	}
	return out, nil
}

// RecentCounterSnapshots returns the newest counter snapshots.
func (s *Store) RecentCounterSnapshots(ctx context.Context, limit int) ([]CounterSnapshot, error) {
	var out []CounterSnapshot
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, taken_at, failures, commits, log_writes, restarts
		 FROM counter_snapshots
		 ORDER BY taken_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, sanitizeError("select counter snapshots", err)
	}
	return out, nil
}

// Prune deletes snapshots older than the cutoff, returning how many
// table snapshot rows were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM table_snapshots WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, sanitizeError("prune table snapshots", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, sanitizeError("prune rows affected", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM counter_snapshots WHERE taken_at < $1`, cutoff); err != nil {
		return removed, sanitizeError("prune counter snapshots", err)
	}
	return removed, nil
}
