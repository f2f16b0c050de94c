// Package store persists completed agent runs to a local SQLite database.
//
// SQLite is used single-writer with WAL journaling; this is a local run log,
// not a multi-user store.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// Run is one completed conversation turn.
type Run struct {
	ID         string
	UserText   string
	Intent     string
	Arch       string
	Answer     string
	LLMCalls   int
	ToolCalls  int
	DurationMs int64
	CreatedTs  int64
}

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the run log at the given DSN.
//
// Pragmas: busy_timeout guards against transient locks, WAL journal mode
// prevents reader/writer blocking. Each pragma must be prefixed with
// `_pragma=` for the modernc.org/sqlite driver.
func New(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// Single connection is optimal for SQLite with WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run (
			id TEXT PRIMARY KEY,
			user_text TEXT NOT NULL,
			intent TEXT NOT NULL,
			arch TEXT NOT NULL,
			answer TEXT NOT NULL,
			llm_calls INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_created_ts ON run (created_ts);
	`)
	return errors.Wrap(err, "failed to migrate run table")
}

// CreateRun inserts a run record. A missing id or timestamp is filled in.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedTs == 0 {
		run.CreatedTs = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run (id, user_text, intent, arch, answer, llm_calls, tool_calls, duration_ms, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserText, run.Intent, run.Arch, run.Answer,
		run.LLMCalls, run.ToolCalls, run.DurationMs, run.CreatedTs,
	)
	return errors.Wrap(err, "failed to insert run")
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_text, intent, arch, answer, llm_calls, tool_calls, duration_ms, created_ts
		FROM run ORDER BY created_ts DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer func() { _ = rows.Close() }() //nolint:errcheck // cleanup

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.UserText, &run.Intent, &run.Arch, &run.Answer,
			&run.LLMCalls, &run.ToolCalls, &run.DurationMs, &run.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "failed to iterate runs")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
