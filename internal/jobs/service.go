// Package jobs implements the submission service for solver runs: formula
// normalization, content-addressed deduplication, cache and in-flight
// coalescing, run creation, enqueue, and the status/result projection
// returned to clients. The database is the source of truth throughout.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/satq-io/satq/internal/config"
	"github.com/satq-io/satq/internal/formula"
	"github.com/satq-io/satq/internal/queue"
	"github.com/satq-io/satq/internal/solver"
	"github.com/satq-io/satq/internal/storage"
)

var (
	// ErrNotFound is returned when a run id is unknown, or when a terminal
	// run has no result row.
	ErrNotFound = errors.New("run not found")

	// ErrResultNotReady is returned when a result is requested for a run that
	// has not reached a terminal status yet.
	ErrResultNotReady = errors.New("run is not complete yet")

	// ErrBrokerUnavailable is returned when the queue rejects an enqueue. The
	// run row is left behind in status FAILED so the submission stays auditable.
	ErrBrokerUnavailable = errors.New("job queue temporarily unavailable")
)

type (
	// Store is the narrow persistence interface the service depends on,
	// satisfied by storage.RunStore.
	Store interface {
		GetOrCreateFormula(ctx context.Context, normalized, hash, notation string) (int64, error)
		GetFormula(ctx context.Context, formulaID int64) (*storage.Formula, error)
		CreateRun(ctx context.Context, formulaID int64, mode string, timeoutS int) (int64, error)
		UpdateRunStatus(ctx context.Context, runID int64, status storage.Status) error
		GetRun(ctx context.Context, runID int64) (*storage.Run, error)
		GetRunStatus(ctx context.Context, runID int64) (*storage.RunRef, error)
		GetActiveRun(ctx context.Context, formulaID int64) (*storage.RunRef, error)
		GetCompletedRun(ctx context.Context, formulaID int64) (*storage.RunRef, error)
		GetResult(ctx context.Context, runID int64) (*storage.Result, error)
	}

	// Queue is the broker interface the service depends on, satisfied by
	// queue.Broker.
	Queue interface {
		Enqueue(ctx context.Context, runID int64, payload *queue.JobPayload) error
	}

	// Service coordinates submissions between the store and the queue.
	Service struct {
		store  Store
		queue  Queue
		modes  *solver.ModeTable
		logger *slog.Logger
	}

	// SubmitResponse is returned for every accepted submission, whether it
	// created a fresh run or resolved to an existing one.
	SubmitResponse struct {
		Msg       string         `json:"msg"`
		Formula   string         `json:"formula"`
		FormulaID int64          `json:"formula_id"`
		RunID     int64          `json:"run_id"`
		Status    storage.Status `json:"status"`
	}

	// StatusResponse reports the current status of a run.
	StatusResponse struct {
		Msg    string         `json:"msg"`
		RunID  int64          `json:"run_id"`
		Status storage.Status `json:"status"`
	}

	// ResultResponse is the result row joined with its formula text.
	ResultResponse struct {
		Msg        string          `json:"msg"`
		Status     storage.Status  `json:"status"`
		RunID      int64           `json:"run_id"`
		FormulaID  int64           `json:"formula_id"`
		Formula    string          `json:"formula"`
		Result     storage.Outcome `json:"result"`
		Assignment map[string]bool `json:"assignment"`
		Runtime    float64         `json:"runtime"`
	}
)

// NewService creates a submission service over the given store and queue,
// with per-mode timeouts taken from the mode table.
func NewService(store Store, q Queue, modes *solver.ModeTable) *Service {
	return &Service{
		store: store,
		queue: q,
		modes: modes,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Submit normalizes and deduplicates a formula, then either returns an
// existing run (completed result preferred over an in-flight one) or creates
// and enqueues a fresh run.
//
// A fresh run is briefly visible in status CREATED before it is enqueued, so
// a concurrent submission of the same formula can coalesce on it. That is
// fine: the coalescing caller gets the same run id that is about to be queued
// or marked failed.
func (s *Service) Submit(ctx context.Context, rawFormula, notation, mode string) (*SubmitResponse, error) {
	if notation == "" {
		notation = formula.NotationRPN
	}

	if mode == "" {
		mode = solver.ModeRPN
	}

	normalized, hash, err := formula.NormalizeAndHash(rawFormula, notation)
	if err != nil {
		return nil, err
	}

	formulaID, err := s.store.GetOrCreateFormula(ctx, normalized, hash, notation)
	if err != nil {
		return nil, fmt.Errorf("get or create formula: %w", err)
	}

	// Completed result beats an in-flight run: a finished answer is always
	// preferred over waiting on a retry.
	completed, err := s.store.GetCompletedRun(ctx, formulaID)
	if err != nil {
		return nil, fmt.Errorf("look up completed run for formula %d: %w", formulaID, err)
	}

	if completed != nil {
		s.logger.Info("Cached result found",
			slog.Int64("formula_id", formulaID),
			slog.Int64("run_id", completed.ID),
		)

		return &SubmitResponse{
			Msg:       "Cached result found. Returning existing run_id.",
			Formula:   normalized,
			FormulaID: formulaID,
			RunID:     completed.ID,
			Status:    completed.Status,
		}, nil
	}

	active, err := s.store.GetActiveRun(ctx, formulaID)
	if err != nil {
		return nil, fmt.Errorf("look up active run for formula %d: %w", formulaID, err)
	}

	if active != nil {
		s.logger.Info("Run already pending for formula",
			slog.Int64("formula_id", formulaID),
			slog.Int64("run_id", active.ID),
		)

		return &SubmitResponse{
			Msg:       "A run already exists for this formula. Returning existing run_id.",
			Formula:   normalized,
			FormulaID: formulaID,
			RunID:     active.ID,
			Status:    active.Status,
		}, nil
	}

	timeoutS := s.modes.TimeoutS(mode)

	runID, err := s.store.CreateRun(ctx, formulaID, mode, timeoutS)
	if err != nil {
		return nil, fmt.Errorf("create run for formula %d: %w", formulaID, err)
	}

	payload := &queue.JobPayload{
		Formula:   normalized,
		RunID:     runID,
		FormulaID: formulaID,
		Mode:      mode,
		TimeoutS:  timeoutS,
	}

	if err := s.queue.Enqueue(ctx, runID, payload); err != nil {
		s.logger.Error("Failed to enqueue run",
			slog.Int64("run_id", runID),
			slog.Int64("formula_id", formulaID),
			slog.String("error", err.Error()),
		)

		if updateErr := s.store.UpdateRunStatus(ctx, runID, storage.StatusFailed); updateErr != nil {
			s.logger.Error("Failed to mark unqueued run as failed",
				slog.Int64("run_id", runID),
				slog.String("error", updateErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %s", ErrBrokerUnavailable, err.Error())
	}

	if err := s.store.UpdateRunStatus(ctx, runID, storage.StatusQueued); err != nil {
		return nil, fmt.Errorf("mark run %d queued: %w", runID, err)
	}

	s.logger.Info("Run queued", slog.Int64("run_id", runID), slog.Int64("formula_id", formulaID))

	return &SubmitResponse{
		Msg:       "Job submitted successfully",
		Formula:   normalized,
		FormulaID: formulaID,
		RunID:     runID,
		Status:    storage.StatusQueued,
	}, nil
}

// Status returns the current status of a run.
func (s *Service) Status(ctx context.Context, runID int64) (*StatusResponse, error) {
	ref, err := s.store.GetRunStatus(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("look up run %d: %w", runID, err)
	}

	if ref == nil {
		return nil, fmt.Errorf("%w: run id %d", ErrNotFound, runID)
	}

	return &StatusResponse{
		Msg:    "Here is the status of your run.",
		RunID:  runID,
		Status: ref.Status,
	}, nil
}

// Result returns the recorded result of a terminal run joined with its
// formula text. A terminal run without a result row indicates a prior crash
// between result insertion and status update and reads as not found.
func (s *Service) Result(ctx context.Context, runID int64) (*ResultResponse, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("look up run %d: %w", runID, err)
	}

	if run == nil {
		return nil, fmt.Errorf("%w: run id %d", ErrNotFound, runID)
	}

	if run.Status != storage.StatusCompleted && run.Status != storage.StatusFailed && run.Status != storage.StatusTimeout {
		return nil, fmt.Errorf("%w: current status %s", ErrResultNotReady, run.Status)
	}

	result, err := s.store.GetResult(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("look up result for run %d: %w", runID, err)
	}

	if result == nil {
		s.logger.Error("Terminal run has no result row", slog.Int64("run_id", runID))

		return nil, fmt.Errorf("%w: no result recorded for run id %d", ErrNotFound, runID)
	}

	f, err := s.store.GetFormula(ctx, run.FormulaID)
	if err != nil {
		return nil, fmt.Errorf("look up formula %d: %w", run.FormulaID, err)
	}

	var formulaText string
	if f != nil {
		formulaText = f.NormalizedInput
	}

	return &ResultResponse{
		Msg:        "Here is the result for your run_id.",
		Status:     run.Status,
		RunID:      runID,
		FormulaID:  run.FormulaID,
		Formula:    formulaText,
		Result:     result.Result,
		Assignment: result.Assignment,
		Runtime:    result.RuntimeS,
	}, nil
}
