package internal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	RunStatusOK     = "ok"
	RunStatusNoop   = "noop"
	RunStatusFailed = "failed"
)

type FileFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RunRecord is the history entry of one ingestion run.
type RunRecord struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Status       string        `json:"status"`
	NewFiles     int           `json:"new_files"`
	Committed    int           `json:"committed"`
	Chunks       int           `json:"chunks"`
	IndexEntries int           `json:"index_entries"`
	Error        string        `json:"error,omitempty"`
	Failures     []FileFailure `json:"failures,omitempty"`
}

type RunRecorder interface {
	Record(ctx context.Context, run RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

var _ RunRecorder = (*RunStore)(nil)

type RunStore struct {
	db   *sql.DB
	path string
}

const runSchema = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	status        TEXT NOT NULL,
	new_files     INTEGER NOT NULL,
	committed     INTEGER NOT NULL,
	chunks        INTEGER NOT NULL,
	index_entries INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS extraction_failures (
	run_id TEXT NOT NULL REFERENCES ingestion_runs(id) ON DELETE CASCADE,
	name   TEXT NOT NULL,
	error  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON ingestion_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_failures_run ON extraction_failures(run_id);
`

func OpenRunStore(path string) (*RunStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create run store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	if _, err := db.Exec(runSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run store: %w", err)
	}

	return &RunStore{db: db, path: path}, nil
}

func (s *RunStore) Path() string {
	return s.path
}

func (s *RunStore) Record(ctx context.Context, run RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, started_at, finished_at, status, new_files, committed, chunks, index_entries, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status,
		run.NewFiles, run.Committed, run.Chunks, run.IndexEntries, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extraction_failures (run_id, name, error) VALUES (?, ?, ?)`,
			run.ID, f.Name, f.Error,
		); err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns the latest runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, new_files, committed, chunks, index_entries, error
		FROM ingestion_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	index := make(map[string]int)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.NewFiles, &r.Committed, &r.Chunks, &r.IndexEntries, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for id, i := range index {
		failures, err := s.failures(ctx, id)
		if err != nil {
			return nil, err
		}
		runs[i].Failures = failures
	}

	return runs, nil
}

func (s *RunStore) failures(ctx context.Context, runID string) ([]FileFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, error FROM extraction_failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FileFailure
	for rows.Next() {
		var f FileFailure
		if err := rows.Scan(&f.Name, &f.Error); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

// nopRecorder is used when no run store is configured.
type nopRecorder struct{}

func (nopRecorder) Record(context.Context, RunRecord) error          { return nil }
func (nopRecorder) Recent(context.Context, int) ([]RunRecord, error) { return nil, nil }
func (nopRecorder) Close() error                                     { return nil }
