// Package history persists terminal job outcomes so they survive watcher
// restarts and can be inspected after a job is cleared from the live view.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genwatch/internal/monitor"
)

// Record is one persisted terminal outcome.
type Record struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	ResultURL  string    `json:"result_url,omitempty"`
	Message    string    `json:"message,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecorderPG stores job history in PostgreSQL.
type RecorderPG struct {
	pool *pgxpool.Pool
}

// NewRecorder creates a recorder backed by the given pool.
func NewRecorder(pool *pgxpool.Pool) *RecorderPG {
	return &RecorderPG{pool: pool}
}

// EnsureSchema creates the history table when it does not exist yet.
func (r *RecorderPG) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS job_history (
    job_id      TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    result_url  TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.pool.Exec(ctx, query)
	return err
}

// RecordTerminal upserts the terminal outcome of a job.
func (r *RecorderPG) RecordTerminal(ctx context.Context, job monitor.Job) error {
	query := `
INSERT INTO job_history (job_id, status, result_url, message, finished_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE
SET status = EXCLUDED.status,
    result_url = EXCLUDED.result_url,
    message = EXCLUDED.message,
    finished_at = EXCLUDED.finished_at;
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		string(job.State),
		job.ResultURL,
		job.Message,
		job.UpdatedAt,
	)
	return err
}

// Get fetches the persisted outcome of one job; ok is false when none exists.
func (r *RecorderPG) Get(ctx context.Context, jobID string) (*Record, error) {
	query := `
SELECT job_id, status, result_url, message, finished_at
FROM job_history
WHERE job_id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var rec Record
	if err := row.Scan(&rec.JobID, &rec.Status, &rec.ResultURL, &rec.Message, &rec.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Recent lists the most recently finished jobs.
func (r *RecorderPG) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT job_id, status, result_url, message, finished_at
FROM job_history
ORDER BY finished_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.JobID, &rec.Status, &rec.ResultURL, &rec.Message, &rec.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
