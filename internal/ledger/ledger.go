// Package ledger records every run and step outcome per job in SQLite. It
// sits beside the workspace artifacts and is never consulted when deciding
// whether a step may run.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/kingrea/contenta/internal/step"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// Run is one orchestrator invocation.
type Run struct {
	ID        string
	JobID     string
	StartStep string
	Mode      string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string
	Error     string
}

// StepOutcome is one executed (or skipped) step.
type StepOutcome struct {
	RunID      string
	StepID     string
	Label      string
	Status     step.Status
	Reason     string
	Elapsed    time.Duration
	FinishedAt time.Time
}

// Ledger wraps the database handle.
type Ledger struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		start_step TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS runs_job ON runs (job_id);`,
	`CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		step_id TEXT NOT NULL,
		label TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		elapsed_ms INTEGER NOT NULL,
		finished_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS step_results_run ON step_results (run_id);`,
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// BeginRun inserts a run in the running state.
func (l *Ledger) BeginRun(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_id, start_step, mode, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.StartStep, run.Mode, formatTime(run.StartedAt), RunRunning)
	if err != nil {
		return fmt.Errorf("ledger: begin run %s: %w", run.ID, err)
	}
	return nil
}

// RecordStep appends a step outcome to runID.
func (l *Ledger) RecordStep(ctx context.Context, runID string, o StepOutcome) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step_id, label, status, reason, elapsed_ms, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, o.StepID, o.Label, string(o.Status), o.Reason, o.Elapsed.Milliseconds(), formatTime(o.FinishedAt))
	if err != nil {
		return fmt.Errorf("ledger: record step %s: %w", o.StepID, err)
	}
	return nil
}

// FinishRun stores the terminal status of runID.
func (l *Ledger) FinishRun(ctx context.Context, runID, status, errText string, endedAt time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, ended_at = ? WHERE id = ?`,
		status, errText, formatTime(endedAt), runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger: finish run %s: unknown run", runID)
	}
	return nil
}

// Latest returns the most recent outcome of every step recorded for jobID.
func (l *Ledger) Latest(ctx context.Context, jobID string) (map[string]StepOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT s.run_id, s.step_id, s.label, s.status, COALESCE(s.reason, ''), s.elapsed_ms, s.finished_at
		FROM step_results s JOIN runs r ON r.id = s.run_id
		WHERE r.job_id = ?
		ORDER BY s.id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("ledger: latest %s: %w", jobID, err)
	}
	defer rows.Close()

	out := map[string]StepOutcome{}
	for rows.Next() {
		var (
			o        StepOutcome
			status   string
			ms       int64
			finished string
		)
		if err := rows.Scan(&o.RunID, &o.StepID, &o.Label, &status, &o.Reason, &ms, &finished); err != nil {
			return nil, fmt.Errorf("ledger: scan step: %w", err)
		}
		o.Status = step.Status(status)
		o.Elapsed = time.Duration(ms) * time.Millisecond
		o.FinishedAt = parseTime(finished)
		out[o.StepID] = o
	}
	return out, rows.Err()
}

// Runs lists the most recent runs for jobID, newest first.
func (l *Ledger) Runs(ctx context.Context, jobID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, job_id, start_step, mode, started_at, COALESCE(ended_at, ''), status, COALESCE(error, '')
		FROM runs WHERE job_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: runs %s: %w", jobID, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run            Run
			started, ended string
		)
		if err := rows.Scan(&run.ID, &run.JobID, &run.StartStep, &run.Mode, &started, &ended, &run.Status, &run.Error); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.EndedAt = parseTime(ended)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
