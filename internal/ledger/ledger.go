package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/rpfba/internal/apperr"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Ledger is the run history consumed by the REST and MCP surfaces.
type Ledger interface {
	BeginRun(ctx context.Context, r Run) (string, error)
	RecordJob(ctx context.Context, j Job) error
	FinishRun(ctx context.Context, runID string, res RunResult) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, int, error)
	RunJobs(ctx context.Context, runID string) ([]Job, error)
	Close() error
}

var _ Ledger = (*DB)(nil)

// Run is one row of the runs table.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	SimType     string     `json:"sim_type"`
	GEMChecksum string     `json:"gem_checksum"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Job is the recorded outcome of one job.
type Job struct {
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ObjectiveID string    `json:"objective_id,omitempty"`
	Value       float64   `json:"value"`
	OK          bool      `json:"ok"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// RunResult closes a run.
type RunResult struct {
	Status     string
	Total      int
	Completed  int
	Skipped    int
	Error      string
	FinishedAt time.Time
}

// BeginRun inserts a running run. An empty ID is replaced by a new UUID,
// which is returned.
func (db *DB) BeginRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, source, sim_type, gem_checksum, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Source, r.SimType, r.GEMChecksum, StatusRunning, r.Total, r.StartedAt)
	if err != nil {
		return "", fmt.Errorf("ledger: begin run: %w", err)
	}
	return r.ID, nil
}

// RecordJob inserts or replaces the outcome of a job.
func (db *DB) RecordJob(ctx context.Context, j Job) error {
	if j.RecordedAt.IsZero() {
		j.RecordedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO jobs (run_id, job_id, status, reason, objective_id, value, ok, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, job_id) DO UPDATE SET
			status       = excluded.status,
			reason       = excluded.reason,
			objective_id = excluded.objective_id,
			value        = excluded.value,
			ok           = excluded.ok,
			recorded_at  = excluded.recorded_at
	`, j.RunID, j.JobID, j.Status, j.Reason, j.ObjectiveID, j.Value, j.OK, j.RecordedAt)
	if err != nil {
		return fmt.Errorf("ledger: record job %s: %w", j.JobID, err)
	}
	return nil
}

// FinishRun stores the final counts and status of a run.
func (db *DB) FinishRun(ctx context.Context, runID string, res RunResult) error {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now().UTC()
	}
	out, err := db.conn.ExecContext(ctx, `
		UPDATE runs SET status = ?, total = ?, completed = ?, skipped = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, res.Status, res.Total, res.Completed, res.Skipped, res.Error, res.FinishedAt, runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: run %s: %w", runID, apperr.ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, sim_type, gem_checksum, status, total, completed, skipped, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Source, &r.SimType, &r.GEMChecksum, &r.Status,
		&r.Total, &r.Completed, &r.Skipped, &r.Error, &r.StartedAt, &finished); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

// GetRun returns one run.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: run %s: %w", runID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns runs newest first with the total row count.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]Run, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count runs: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// RunJobs returns the jobs of a run ordered by job id.
func (db *DB) RunJobs(ctx context.Context, runID string) ([]Job, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, job_id, status, reason, objective_id, value, ok, recorded_at
		FROM jobs WHERE run_id = ? ORDER BY job_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: run jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.RunID, &j.JobID, &j.Status, &j.Reason, &j.ObjectiveID, &j.Value, &j.OK, &j.RecordedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
