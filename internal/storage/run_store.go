package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/satq-io/satq/internal/config"
)

// SQL statements for the run store. Single statements are individually atomic;
// no operation here spans more than one.
const (
	upsertFormulaQuery = `
		INSERT INTO formulas (normalized_input, hash, notation)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash)
		DO UPDATE SET hash = EXCLUDED.hash
		RETURNING id`

	insertRunQuery = `
		INSERT INTO runs (formula_id, status, timeout_s, mode)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	// started_at and finished_at stamps are idempotent: written only while
	// still null, so a replayed transition cannot move a timestamp.
	updateRunStatusQuery = `
		UPDATE runs
		SET status = $2,
		    started_at = CASE
		        WHEN $2 = 'PROCESSING' AND started_at IS NULL THEN now()
		        ELSE started_at
		    END,
		    finished_at = CASE
		        WHEN $2 IN ('COMPLETED', 'FAILED', 'TIMEOUT', 'CANCELLED') AND finished_at IS NULL THEN now()
		        ELSE finished_at
		    END
		WHERE id = $1`

	getFormulaQuery = `
		SELECT id, normalized_input, hash, notation, created_at
		FROM formulas
		WHERE id = $1`

	getRunQuery = `
		SELECT id, formula_id, status, created_at, started_at, finished_at, timeout_s, mode
		FROM runs
		WHERE id = $1`

	getRunStatusQuery = `
		SELECT id, status
		FROM runs
		WHERE id = $1`

	insertResultQuery = `
		INSERT INTO results (run_id, result, assignment, stdout, stderr, error_type, error_message, runtime_s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING`

	getResultQuery = `
		SELECT run_id, result, assignment, stdout, stderr, error_type, error_message, runtime_s
		FROM results
		WHERE run_id = $1`

	getActiveRunQuery = `
		SELECT id, status
		FROM runs
		WHERE formula_id = $1 AND status IN ('CREATED', 'PROCESSING', 'QUEUED')
		LIMIT 1`

	getCompletedRunQuery = `
		SELECT id, status
		FROM runs
		WHERE formula_id = $1 AND status = 'COMPLETED'
		ORDER BY finished_at DESC
		LIMIT 1`
)

// RunStore implements formula, run, and result persistence on PostgreSQL.
// All read lookups return (nil, nil) on miss; connectivity errors propagate.
type RunStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRunStore creates a PostgreSQL-backed run store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewRunStore(conn *Connection) (*RunStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RunStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// GetOrCreateFormula upserts a formula keyed by hash and returns its id.
// On hash collision the no-op update still returns the existing id; the
// formula row is never modified after creation.
func (s *RunStore) GetOrCreateFormula(ctx context.Context, normalized, hash, notation string) (int64, error) {
	var id int64
	if err := s.conn.QueryRowContext(ctx, upsertFormulaQuery, normalized, hash, notation).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert formula: %w", err)
	}

	return id, nil
}

// CreateRun inserts a new run in status CREATED and returns its id.
func (s *RunStore) CreateRun(ctx context.Context, formulaID int64, mode string, timeoutS int) (int64, error) {
	var id int64
	if err := s.conn.QueryRowContext(ctx, insertRunQuery, formulaID, StatusCreated, timeoutS, mode).Scan(&id); err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	return id, nil
}

// UpdateRunStatus writes the new status and conditionally stamps started_at
// (first PROCESSING) and finished_at (first terminal transition).
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID int64, status Status) error {
	if _, err := s.conn.ExecContext(ctx, updateRunStatusQuery, runID, status); err != nil {
		return fmt.Errorf("update run %d status to %s: %w", runID, status, err)
	}

	return nil
}

// GetFormula returns the formula by id, or nil on miss.
func (s *RunStore) GetFormula(ctx context.Context, formulaID int64) (*Formula, error) {
	var f Formula

	err := s.conn.QueryRowContext(ctx, getFormulaQuery, formulaID).
		Scan(&f.ID, &f.NormalizedInput, &f.Hash, &f.Notation, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get formula %d: %w", formulaID, err)
	}

	return &f, nil
}

// GetRun returns the full run row by id, or nil on miss.
func (s *RunStore) GetRun(ctx context.Context, runID int64) (*Run, error) {
	var (
		r          Run
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, getRunQuery, runID).
		Scan(&r.ID, &r.FormulaID, &r.Status, &r.CreatedAt, &startedAt, &finishedAt, &r.TimeoutS, &r.Mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", runID, err)
	}

	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}

	return &r, nil
}

// GetRunStatus returns the (id, status) projection for a run, or nil on miss.
func (s *RunStore) GetRunStatus(ctx context.Context, runID int64) (*RunRef, error) {
	return s.queryRunRef(ctx, getRunStatusQuery, runID)
}

// GetActiveRun returns any run for the formula still in CREATED, QUEUED, or
// PROCESSING, or nil when none is in flight. Used to collapse concurrent
// submissions of the same formula onto one run.
func (s *RunStore) GetActiveRun(ctx context.Context, formulaID int64) (*RunRef, error) {
	return s.queryRunRef(ctx, getActiveRunQuery, formulaID)
}

// GetCompletedRun returns the most recently completed run for the formula, or
// nil when none has completed. This is the cache-hit path.
func (s *RunStore) GetCompletedRun(ctx context.Context, formulaID int64) (*RunRef, error) {
	return s.queryRunRef(ctx, getCompletedRunQuery, formulaID)
}

// InsertResult records the outcome of a run. The insert is idempotent keyed by
// run_id: a retried worker's duplicate insert is silently ignored so it cannot
// corrupt a recorded result.
func (s *RunStore) InsertResult(ctx context.Context, result *Result) error {
	var assignment any

	if result.Assignment != nil {
		encoded, err := json.Marshal(result.Assignment)
		if err != nil {
			return fmt.Errorf("encode assignment for run %d: %w", result.RunID, err)
		}

		assignment = encoded
	}

	_, err := s.conn.ExecContext(ctx, insertResultQuery,
		result.RunID,
		result.Result,
		assignment,
		result.Stdout,
		result.Stderr,
		nullableString(result.ErrorType),
		nullableString(result.ErrorMessage),
		result.RuntimeS,
	)
	if err != nil {
		return fmt.Errorf("insert result for run %d: %w", result.RunID, err)
	}

	return nil
}

// GetResult returns the result row for a run, or nil on miss.
func (s *RunStore) GetResult(ctx context.Context, runID int64) (*Result, error) {
	var (
		r            Result
		assignment   []byte
		errorType    sql.NullString
		errorMessage sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, getResultQuery, runID).
		Scan(&r.RunID, &r.Result, &assignment, &r.Stdout, &r.Stderr, &errorType, &errorMessage, &r.RuntimeS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get result for run %d: %w", runID, err)
	}

	if len(assignment) > 0 {
		if err := json.Unmarshal(assignment, &r.Assignment); err != nil {
			return nil, fmt.Errorf("decode assignment for run %d: %w", runID, err)
		}
	}

	r.ErrorType = errorType.String
	r.ErrorMessage = errorMessage.String

	return &r, nil
}

// Healthy reports database connectivity for the health probes.
func (s *RunStore) Healthy(ctx context.Context) bool {
	return s.conn.Healthy(ctx)
}

func (s *RunStore) queryRunRef(ctx context.Context, query string, arg int64) (*RunRef, error) {
	var ref RunRef

	err := s.conn.QueryRowContext(ctx, query, arg).Scan(&ref.ID, &ref.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("run lookup: %w", err)
	}

	return &ref, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
