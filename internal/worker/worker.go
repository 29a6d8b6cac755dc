// Package worker implements the solver worker loop: claim a job from the
// queue, mark the run processing, invoke the solver under its timeout,
// classify the exit code into an outcome, and commit result, terminal status,
// and ack in that order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/satq-io/satq/internal/config"
	"github.com/satq-io/satq/internal/queue"
	"github.com/satq-io/satq/internal/solver"
	"github.com/satq-io/satq/internal/storage"
)

const (
	defaultPollTimeout  = 5 * time.Second
	defaultClaimBackoff = 2 * time.Second
)

type (
	// Store is the persistence interface the worker depends on, satisfied by
	// storage.RunStore.
	Store interface {
		UpdateRunStatus(ctx context.Context, runID int64, status storage.Status) error
		InsertResult(ctx context.Context, result *storage.Result) error
	}

	// Queue is the broker interface the worker depends on, satisfied by
	// queue.Broker.
	Queue interface {
		Claim(ctx context.Context, timeout time.Duration) (*queue.ClaimedJob, error)
		Ack(ctx context.Context, runID int64)
		Fail(ctx context.Context, runID int64, reason string)
	}

	// Runner invokes the solver executable, satisfied by solver.Runner.
	Runner interface {
		Run(ctx context.Context, formulaText string, timeout time.Duration) (*solver.Invocation, error)
	}

	// Worker claims and processes solver runs until stopped. Shutdown is
	// cooperative: the running flag is observed between jobs, never mid-solve,
	// so a claimed job always reaches one of its terminal transitions.
	Worker struct {
		store        Store
		queue        Queue
		runner       Runner
		modes        *solver.ModeTable
		pollTimeout  time.Duration
		claimBackoff time.Duration
		running      atomic.Bool
		currentRunID atomic.Int64
		logger       *slog.Logger
	}

	// Option configures optional Worker behavior.
	Option func(*Worker)
)

// WithPollTimeout overrides the blocking claim window (default 5s). It must
// stay below the broker's read timeout.
func WithPollTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		w.pollTimeout = timeout
	}
}

// WithClaimBackoff overrides the pause after a failed claim (default 2s).
func WithClaimBackoff(backoff time.Duration) Option {
	return func(w *Worker) {
		w.claimBackoff = backoff
	}
}

// PollTimeoutFromEnv returns the claim window from WORKER_POLL_TIMEOUT.
func PollTimeoutFromEnv() time.Duration {
	return config.GetEnvDuration("WORKER_POLL_TIMEOUT", defaultPollTimeout)
}

// New creates a worker over the given store, queue, and solver runner.
func New(store Store, q Queue, runner Runner, modes *solver.ModeTable, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		queue:        q,
		runner:       runner,
		modes:        modes,
		pollTimeout:  defaultPollTimeout,
		claimBackoff: defaultClaimBackoff,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.running.Store(true)

	return w
}

// Stop requests a clean shutdown. The in-flight job, if any, still runs to a
// terminal transition before the loop exits.
func (w *Worker) Stop() {
	w.running.Store(false)
}

// CurrentRunID returns the run being processed, or 0 between jobs.
func (w *Worker) CurrentRunID() int64 {
	return w.currentRunID.Load()
}

// InstallSignalHandlers flips the running flag on SIGINT/SIGTERM.
func (w *Worker) InstallSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		w.logger.Info("Worker received shutdown signal", slog.String("signal", sig.String()))
		w.Stop()
	}()
}

// Run claims and processes jobs until Stop is called or the context is
// cancelled. Claim failures are logged and followed by a back-off; an empty
// claim window simply loops.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker starting", slog.Duration("poll_timeout", w.pollTimeout))

	for w.running.Load() && ctx.Err() == nil {
		job, err := w.queue.Claim(ctx, w.pollTimeout)
		if err != nil {
			w.logger.Error("Queue claim failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.claimBackoff)

			continue
		}

		if job == nil {
			continue
		}

		w.currentRunID.Store(job.RunID)
		w.logger.Info("Claimed run", slog.Int64("run_id", job.RunID))

		// Detached from the loop context so cancellation cannot kill the
		// solver mid-run; the job finishes before shutdown is observed.
		w.processJob(context.WithoutCancel(ctx), job)

		w.currentRunID.Store(0)
	}

	w.logger.Info("Worker shutting down cleanly")
}

func (w *Worker) processJob(ctx context.Context, job *queue.ClaimedJob) {
	runID := job.RunID

	if err := w.store.UpdateRunStatus(ctx, runID, storage.StatusProcessing); err != nil {
		w.logger.Error("Failed to mark run processing",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		w.queue.Fail(ctx, runID, err.Error())

		return
	}

	timeout := time.Duration(job.Payload.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = w.modes.Timeout(job.Payload.Mode)
	}

	inv, err := w.runner.Run(ctx, job.Payload.Formula, timeout)

	switch {
	case err == nil:
		w.commitInvocation(ctx, runID, inv)

	case errors.Is(err, solver.ErrTimeout):
		w.logger.Warn("Solver timeout", slog.Int64("run_id", runID), slog.Duration("timeout", timeout))
		w.commit(ctx, runID, &storage.Result{
			RunID:        runID,
			Result:       storage.OutcomeTimeout,
			ErrorType:    storage.ErrorTypeTimeout,
			ErrorMessage: fmt.Sprintf("Solver execution timed out after %ds", int(timeout.Seconds())),
			RuntimeS:     timeout.Seconds(),
		}, storage.StatusTimeout)

	case errors.Is(err, solver.ErrBinaryNotFound):
		w.logger.Error("Solver binary not found", slog.Int64("run_id", runID))
		w.commit(ctx, runID, &storage.Result{
			RunID:        runID,
			Result:       storage.OutcomeError,
			ErrorType:    storage.ErrorTypeBinaryNotFound,
			ErrorMessage: "Solver binary not available",
		}, storage.StatusFailed)

	default:
		w.logger.Error("Solver execution failed",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		w.commit(ctx, runID, &storage.Result{
			RunID:        runID,
			Result:       storage.OutcomeError,
			ErrorType:    storage.ErrorTypeExecution,
			ErrorMessage: err.Error(),
		}, storage.StatusFailed)
	}
}

// commitInvocation classifies a finished solver process by exit code.
func (w *Worker) commitInvocation(ctx context.Context, runID int64, inv *solver.Invocation) {
	result := &storage.Result{
		RunID:    runID,
		Stdout:   inv.Stdout,
		Stderr:   inv.Stderr,
		RuntimeS: inv.Runtime.Seconds(),
	}

	switch inv.ExitCode {
	case solver.ExitSAT, solver.ExitUNSAT:
		verdict, assignment := solver.ParseOutput(inv.Stdout)
		result.Result = storage.Outcome(verdict)
		result.Assignment = assignment

		w.commit(ctx, runID, result, storage.StatusCompleted)
		w.logger.Info("Completed run", slog.Int64("run_id", runID), slog.String("result", verdict))

	case solver.ExitParseError:
		result.Result = storage.OutcomeError
		result.ErrorType = storage.ErrorTypeParseError
		result.ErrorMessage = inv.Stderr
		if result.ErrorMessage == "" {
			result.ErrorMessage = "Formula parsing failed"
		}

		w.commit(ctx, runID, result, storage.StatusFailed)
		w.logger.Info("Parse error for run", slog.Int64("run_id", runID))

	default:
		result.Result = storage.OutcomeError
		result.ErrorType = storage.ErrorTypeUnexpectedRC
		result.ErrorMessage = fmt.Sprintf("Unexpected solver return code %d", inv.ExitCode)

		w.commit(ctx, runID, result, storage.StatusFailed)
		w.logger.Warn("Unexpected solver return code",
			slog.Int64("run_id", runID),
			slog.Int("exit_code", inv.ExitCode),
		)
	}
}

// commit writes the result row, moves the run to its terminal status, and
// acks the queue, in that order. If either store write fails the job is
// failed at the queue level instead of acked, so the broker never re-emits
// it and operators reconcile from store state.
func (w *Worker) commit(ctx context.Context, runID int64, result *storage.Result, status storage.Status) {
	if err := w.store.InsertResult(ctx, result); err != nil {
		w.logger.Error("Failed to insert result",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		w.queue.Fail(ctx, runID, err.Error())

		return
	}

	if err := w.store.UpdateRunStatus(ctx, runID, status); err != nil {
		w.logger.Error("Failed to update run status",
			slog.Int64("run_id", runID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		w.queue.Fail(ctx, runID, err.Error())

		return
	}

	w.queue.Ack(ctx, runID)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
