// Package history keeps a SQLite record of batch runs so outcomes can be
// compared across invocations.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bgricker/stagerun/internal/report"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded batch.
type Run struct {
	ID         string        `json:"id"`
	InputsDir  string        `json:"inputs_dir"`
	LogsDir    string        `json:"logs_dir"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	IOErrors   int           `json:"io_errors"`
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores summary and its entries under a new run ID.
func (s *Store) RecordRun(ctx context.Context, summary report.Summary) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, inputs_dir, logs_dir, started_at, duration_ms, passed, failed, io_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		summary.InputsDir,
		summary.LogsDir,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.Duration.Milliseconds(),
		summary.Passed,
		summary.Failed,
		len(summary.Errors),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, e := range summary.Entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entries (run_id, position, name, outcome, log_path)
			VALUES (?, ?, ?, ?, ?)
		`, id, i, e.Name, string(e.Outcome), e.LogPath)
		if err != nil {
			return "", fmt.Errorf("insert entry %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, inputs_dir, logs_dir, started_at, duration_ms, passed, failed, io_errors FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Entries returns the per-input outcomes of a run in batch order.
func (s *Store) Entries(ctx context.Context, runID string) ([]report.Entry, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, outcome, log_path FROM entries WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []report.Entry
	for rows.Next() {
		var (
			e       report.Entry
			outcome string
			logPath sql.NullString
		)
		if err := rows.Scan(&e.Name, &outcome, &logPath); err != nil {
			return nil, err
		}
		e.Outcome = report.Outcome(outcome)
		e.LogPath = logPath.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastOutcome returns the most recent recorded outcome for an input name.
func (s *Store) LastOutcome(ctx context.Context, name string) (report.Outcome, bool, error) {
	var outcome string
	err := s.db.QueryRowContext(ctx, `
		SELECT e.outcome FROM entries e JOIN runs r ON r.id = e.run_id
		WHERE e.name = ? ORDER BY r.started_at DESC, r.rowid DESC LIMIT 1
	`, name).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return report.Outcome(outcome), true, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run     Run
		started string
	)
	if err := rows.Scan(&run.ID, &run.InputsDir, &run.LogsDir, &started, &run.DurationMS, &run.Passed, &run.Failed, &run.IOErrors); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	run.StartedAt = t
	run.Duration = time.Duration(run.DurationMS) * time.Millisecond
	return run, nil
}
