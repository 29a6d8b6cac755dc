package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satq-io/satq/internal/queue"
	"github.com/satq-io/satq/internal/solver"
	"github.com/satq-io/satq/internal/storage"
)

type stubStore struct {
	statuses    []storage.Status
	results     []*storage.Result
	insertErr   error
	updateErrOn storage.Status
}

func (s *stubStore) UpdateRunStatus(_ context.Context, _ int64, status storage.Status) error {
	if s.updateErrOn != "" && status == s.updateErrOn {
		return errors.New("store unavailable")
	}

	s.statuses = append(s.statuses, status)

	return nil
}

func (s *stubStore) InsertResult(_ context.Context, result *storage.Result) error {
	if s.insertErr != nil {
		return s.insertErr
	}

	s.results = append(s.results, result)

	return nil
}

type stubQueue struct {
	claims []*queue.ClaimedJob
	// claimErrs are consumed before claims, one per call.
	claimErrs []error
	acked     []int64
	failed    map[int64]string
	onClaim   func()
}

func (q *stubQueue) Claim(_ context.Context, _ time.Duration) (*queue.ClaimedJob, error) {
	if q.onClaim != nil {
		q.onClaim()
	}

	if len(q.claimErrs) > 0 {
		err := q.claimErrs[0]
		q.claimErrs = q.claimErrs[1:]

		return nil, err
	}

	if len(q.claims) == 0 {
		return nil, nil
	}

	job := q.claims[0]
	q.claims = q.claims[1:]

	return job, nil
}

func (q *stubQueue) Ack(_ context.Context, runID int64) {
	q.acked = append(q.acked, runID)
}

func (q *stubQueue) Fail(_ context.Context, runID int64, reason string) {
	if q.failed == nil {
		q.failed = make(map[int64]string)
	}

	q.failed[runID] = reason
}

type stubRunner struct {
	inv *solver.Invocation
	err error
}

func (r *stubRunner) Run(_ context.Context, _ string, _ time.Duration) (*solver.Invocation, error) {
	return r.inv, r.err
}

func testJob(runID int64) *queue.ClaimedJob {
	return &queue.ClaimedJob{
		RunID: runID,
		Payload: queue.JobPayload{
			Formula:   "A B &&",
			RunID:     runID,
			FormulaID: 1,
			Mode:      solver.ModeRPN,
			TimeoutS:  10,
		},
	}
}

func newTestWorker(store *stubStore, q *stubQueue, runner *stubRunner) *Worker {
	return New(store, q, runner, solver.DefaultModeTable(),
		WithPollTimeout(10*time.Millisecond),
		WithClaimBackoff(time.Millisecond),
	)
}

func TestProcessJobSAT(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{
		Stdout:   "A -> TRUE\nB -> FALSE\n",
		ExitCode: solver.ExitSAT,
		Runtime:  70 * time.Millisecond,
	}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(1))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusCompleted}, store.statuses)
	require.Len(t, store.results, 1)

	result := store.results[0]
	require.Equal(t, storage.OutcomeSAT, result.Result)
	require.Equal(t, map[string]bool{"A": true, "B": false}, result.Assignment)
	require.Empty(t, result.ErrorType)
	require.InDelta(t, 0.07, result.RuntimeS, 1e-9)

	require.Equal(t, []int64{1}, q.acked)
	require.Empty(t, q.failed)
}

func TestProcessJobUNSAT(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{
		Stdout:   "UNSAT\n",
		ExitCode: solver.ExitUNSAT,
		Runtime:  10 * time.Millisecond,
	}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(2))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusCompleted}, store.statuses)
	require.Equal(t, storage.OutcomeUNSAT, store.results[0].Result)
	require.Nil(t, store.results[0].Assignment)
	require.Equal(t, []int64{2}, q.acked)
}

func TestProcessJobParseError(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{
		Stderr:   "parse error at token 2",
		ExitCode: solver.ExitParseError,
		Runtime:  time.Millisecond,
	}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(3))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusFailed}, store.statuses)

	result := store.results[0]
	require.Equal(t, storage.OutcomeError, result.Result)
	require.Equal(t, storage.ErrorTypeParseError, result.ErrorType)
	require.Contains(t, result.ErrorMessage, "parse error at token 2")
	require.Equal(t, []int64{3}, q.acked)
}

func TestProcessJobParseErrorEmptyStderr(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{ExitCode: solver.ExitParseError}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(4))

	require.Equal(t, "Formula parsing failed", store.results[0].ErrorMessage)
}

func TestProcessJobUnexpectedReturnCode(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{ExitCode: 7}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(5))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusFailed}, store.statuses)

	result := store.results[0]
	require.Equal(t, storage.ErrorTypeUnexpectedRC, result.ErrorType)
	require.Contains(t, result.ErrorMessage, "7")
	require.Equal(t, []int64{5}, q.acked)
}

func TestProcessJobTimeout(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{err: solver.ErrTimeout}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(6))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusTimeout}, store.statuses)

	result := store.results[0]
	require.Equal(t, storage.OutcomeTimeout, result.Result)
	require.Equal(t, storage.ErrorTypeTimeout, result.ErrorType)
	require.InDelta(t, 10.0, result.RuntimeS, 1e-9, "timeout runtime equals the budget")
	require.Equal(t, []int64{6}, q.acked)
}

func TestProcessJobBinaryNotFound(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{err: solver.ErrBinaryNotFound}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(7))

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusFailed}, store.statuses)

	result := store.results[0]
	require.Equal(t, storage.ErrorTypeBinaryNotFound, result.ErrorType)
	require.Zero(t, result.RuntimeS)
	require.Equal(t, []int64{7}, q.acked)
}

func TestProcessJobExecutionError(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{err: errors.New("fork failed")}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(8))

	result := store.results[0]
	require.Equal(t, storage.ErrorTypeExecution, result.ErrorType)
	require.Contains(t, result.ErrorMessage, "fork failed")
	require.Zero(t, result.RuntimeS)
	require.Equal(t, []int64{8}, q.acked)
}

func TestCommitFallsBackToQueueFailOnInsertError(t *testing.T) {
	store := &stubStore{insertErr: errors.New("store down")}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{Stdout: "UNSAT", ExitCode: solver.ExitUNSAT}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(9))

	require.Empty(t, q.acked, "failed store write must not ack")
	require.Contains(t, q.failed[9], "store down")
	require.Equal(t, []storage.Status{storage.StatusProcessing}, store.statuses)
}

func TestCommitFallsBackToQueueFailOnStatusError(t *testing.T) {
	store := &stubStore{updateErrOn: storage.StatusCompleted}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{Stdout: "UNSAT", ExitCode: solver.ExitUNSAT}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(10))

	require.Empty(t, q.acked)
	require.Contains(t, q.failed[10], "store unavailable")
	require.Len(t, store.results, 1, "result row was written before the status update failed")
}

func TestProcessingMarkFailureFailsJob(t *testing.T) {
	store := &stubStore{updateErrOn: storage.StatusProcessing}
	q := &stubQueue{}
	runner := &stubRunner{inv: &solver.Invocation{ExitCode: solver.ExitSAT}}

	newTestWorker(store, q, runner).processJob(context.Background(), testJob(11))

	require.Empty(t, store.results, "solver must not run when the run cannot be marked processing")
	require.Empty(t, q.acked)
	require.Contains(t, q.failed[11], "store unavailable")
}

func TestRunLoopProcessesThenStops(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{claims: []*queue.ClaimedJob{testJob(12)}}
	runner := &stubRunner{inv: &solver.Invocation{Stdout: "UNSAT", ExitCode: solver.ExitUNSAT}}

	w := newTestWorker(store, q, runner)

	claimCount := 0
	q.onClaim = func() {
		claimCount++
		if claimCount > 1 {
			w.Stop()
		}
	}

	w.Run(context.Background())

	require.Equal(t, []int64{12}, q.acked)
	require.Zero(t, w.CurrentRunID())
}

func TestRunLoopBacksOffOnClaimError(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{claimErrs: []error{errors.New("connection refused")}}
	runner := &stubRunner{}

	w := newTestWorker(store, q, runner)

	claimCount := 0
	q.onClaim = func() {
		claimCount++
		if claimCount > 1 {
			w.Stop()
		}
	}

	w.Run(context.Background())

	require.GreaterOrEqual(t, claimCount, 2, "loop must survive a claim failure")
	require.Empty(t, q.acked)
}

func TestRunLoopStopsOnContextCancel(t *testing.T) {
	store := &stubStore{}
	q := &stubQueue{}
	runner := &stubRunner{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		newTestWorker(store, q, runner).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
