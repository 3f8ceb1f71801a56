// Package journal keeps unfinished alert jobs in SQLite so they survive a
// restart. Finished and failed jobs are deleted, not archived.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harunnryd/freestream/pkg/alert"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS pending_jobs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	source_event_id TEXT,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_jobs_source ON pending_jobs(source_event_id);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("journal: migrate pending_jobs: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records a newly queued job. Appending an existing ID is a no-op.
func (s *Store) Append(ctx context.Context, job alert.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("journal: encode job: %w", err)
	}
	now := s.now().UTC()
	const stmt = `
INSERT INTO pending_jobs (id, source_event_id, status, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	_, err = s.db.ExecContext(ctx, stmt, job.ID, job.SourceEventID, string(job.Status), string(payload), job.CreatedAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("journal: append %s: %w", job.ID, err)
	}
	return nil
}

// MarkStatus updates the recorded status of a job.
func (s *Store) MarkStatus(ctx context.Context, id string, status alert.Status) error {
	const stmt = `UPDATE pending_jobs SET status = ?, updated_at = ? WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, stmt, string(status), s.now().UTC(), id); err != nil {
		return fmt.Errorf("journal: mark %s %s: %w", id, status, err)
	}
	return nil
}

// Remove forgets a finished job.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("journal: remove %s: %w", id, err)
	}
	return nil
}

// Pending returns unfinished jobs in the order they were appended, each
// reset to queued. Partially synthesized or played jobs start over.
func (s *Store) Pending(ctx context.Context) ([]alert.Job, error) {
	const query = `SELECT payload FROM pending_jobs ORDER BY seq ASC;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("journal: list pending: %w", err)
	}
	defer rows.Close()

	var out []alert.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("journal: scan pending: %w", err)
		}
		var job alert.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("journal: decode pending: %w", err)
		}
		job.Status = alert.StatusQueued
		job.AudioID = ""
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: pending rows error: %w", err)
	}
	return out, nil
}

// Count returns the number of unfinished jobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_jobs;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}
