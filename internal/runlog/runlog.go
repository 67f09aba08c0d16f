// Package runlog records experiment runs and their fits in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("runlog: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	rhs         TEXT NOT NULL,
	guess       TEXT NOT NULL,
	solve_error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS fits (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	label      TEXT NOT NULL,
	skipped    INTEGER NOT NULL DEFAULT 0,
	equation   TEXT NOT NULL DEFAULT '',
	loss       REAL,
	complexity INTEGER,
	score      REAL,
	PRIMARY KEY (run_id, seq)
);`

// Run is one execution of the experiment.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	RHS        string
	Guess      string
	SolveError string
	Fits       []Fit
}

// Fit is the selected equation of one regression, or a skipped fit.
type Fit struct {
	Label      string
	Skipped    bool
	Equation   string
	Loss       float64
	Complexity int
	Score      float64
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Begin inserts a new run and returns its id.
func (s *Store) Begin(ctx context.Context, rhs, guess string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, rhs, guess) VALUES (?, ?, ?, ?)`,
		id, formatTime(s.now()), rhs, guess)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

func (s *Store) RecordSolveError(ctx context.Context, id, msg string) error {
	return s.update(ctx, `UPDATE runs SET solve_error = ? WHERE id = ?`, msg, id)
}

// RecordFit appends a fit to the run.
func (s *Store) RecordFit(ctx context.Context, id string, f Fit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record fit: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fits WHERE run_id = ?`, id).Scan(&seq); err != nil {
		return fmt.Errorf("record fit: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO fits (run_id, seq, label, skipped, equation, loss, complexity, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, seq, f.Label, f.Skipped, f.Equation, nullable(f.Skipped, f.Loss), nullable(f.Skipped, f.Complexity), nullable(f.Skipped, f.Score))
	if err != nil {
		return fmt.Errorf("record fit: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Finish(ctx context.Context, id string) error {
	return s.update(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, formatTime(s.now()), id)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads a run with its fits.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	r := &Run{ID: id}
	var started string
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, finished_at, rhs, guess, solve_error FROM runs WHERE id = ?`, id).
		Scan(&started, &finished, &r.RHS, &r.Guess, &r.SolveError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		if r.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT label, skipped, equation, loss, complexity, score FROM fits WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get fits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Fit
		var loss, score sql.NullFloat64
		var complexity sql.NullInt64
		if err := rows.Scan(&f.Label, &f.Skipped, &f.Equation, &loss, &complexity, &score); err != nil {
			return nil, fmt.Errorf("scan fit: %w", err)
		}
		f.Loss, f.Complexity, f.Score = loss.Float64, int(complexity.Int64), score.Float64
		r.Fits = append(r.Fits, f)
	}
	return r, rows.Err()
}

// Recent returns up to n run ids, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable[T any](skipped bool, v T) any {
	if skipped {
		return nil
	}
	return v
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("runlog: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
