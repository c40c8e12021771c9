// Package history persists finished runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

const columns = `id, task, variant, state, failure, warnings, errors, test_exit_code, test_url, started_at, finished_at`

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

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

// RecordRun inserts or updates a run
func (s *Store) RecordRun(ctx context.Context, run *domain.Run) error {
	var exitCode sql.NullInt64
	if run.TestExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.TestExitCode), Valid: true}
	}
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			failure = excluded.failure,
			warnings = excluded.warnings,
			errors = excluded.errors,
			test_exit_code = excluded.test_exit_code,
			test_url = excluded.test_url,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.Task,
		string(run.Variant),
		string(run.State),
		string(run.Failure),
		run.Warnings,
		run.Errors,
		exitCode,
		run.TestURL,
		run.StartedAt,
		finished,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Task  string
	Limit int
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*domain.Run, error) {
	query := `SELECT ` + columns + ` FROM runs WHERE 1=1`
	var args []any

	if opts.Task != "" {
		query += " AND task = ?"
		args = append(args, opts.Task)
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var variant, state, failure string
	var exitCode sql.NullInt64
	var testURL sql.NullString
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.Task, &variant, &state, &failure, &run.Warnings, &run.Errors, &exitCode, &testURL, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Variant = domain.Variant(variant)
	run.State = domain.RunState(state)
	run.Failure = domain.FailureKind(failure)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.TestExitCode = &code
	}
	if testURL.Valid {
		run.TestURL = testURL.String
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}

	return &run, nil
}
