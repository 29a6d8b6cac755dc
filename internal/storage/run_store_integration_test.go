package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/satq-io/satq/internal/config"
	"github.com/satq-io/satq/internal/formula"
)

func setupStore(ctx context.Context, t *testing.T) *RunStore {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	store, err := NewRunStore(NewConnectionFromDB(testDB.Connection))
	require.NoError(t, err)

	return store
}

// uniqueFormula builds a valid normalized formula that no other test run has
// submitted, so hash-based dedup cannot bleed between tests.
func uniqueFormula(t *testing.T) (string, string) {
	t.Helper()

	variable := "v" + uuid.NewString()[:8]
	normalized := variable + " " + variable + " &&"

	return normalized, formula.Hash(formula.NotationRPN, normalized)
}

func TestRunStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	t.Run("formula upsert is idempotent", func(t *testing.T) {
		normalized, hash := uniqueFormula(t)

		first, err := store.GetOrCreateFormula(ctx, normalized, hash, formula.NotationRPN)
		require.NoError(t, err)

		second, err := store.GetOrCreateFormula(ctx, normalized, hash, formula.NotationRPN)
		require.NoError(t, err)
		require.Equal(t, first, second, "identical hash must yield identical formula id")

		got, err := store.GetFormula(ctx, first)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, normalized, got.NormalizedInput)
		require.Equal(t, hash, got.Hash)
	})

	t.Run("run lifecycle stamps timestamps once", func(t *testing.T) {
		normalized, hash := uniqueFormula(t)
		formulaID, err := store.GetOrCreateFormula(ctx, normalized, hash, formula.NotationRPN)
		require.NoError(t, err)

		runID, err := store.CreateRun(ctx, formulaID, "RPN", 10)
		require.NoError(t, err)

		run, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		require.Equal(t, StatusCreated, run.Status)
		require.Nil(t, run.StartedAt)
		require.Nil(t, run.FinishedAt)

		require.NoError(t, store.UpdateRunStatus(ctx, runID, StatusQueued))
		require.NoError(t, store.UpdateRunStatus(ctx, runID, StatusProcessing))

		run, err = store.GetRun(ctx, runID)
		require.NoError(t, err)
		require.NotNil(t, run.StartedAt)
		started := *run.StartedAt

		// A replayed PROCESSING transition must not move started_at.
		require.NoError(t, store.UpdateRunStatus(ctx, runID, StatusProcessing))

		run, err = store.GetRun(ctx, runID)
		require.NoError(t, err)
		require.Equal(t, started, *run.StartedAt)

		require.NoError(t, store.UpdateRunStatus(ctx, runID, StatusCompleted))

		run, err = store.GetRun(ctx, runID)
		require.NoError(t, err)
		require.NotNil(t, run.FinishedAt)
		require.False(t, run.StartedAt.After(*run.FinishedAt), "started_at must be <= finished_at")
		require.False(t, run.CreatedAt.After(*run.StartedAt), "created_at must be <= started_at")
	})

	t.Run("result insert is idempotent per run", func(t *testing.T) {
		normalized, hash := uniqueFormula(t)
		formulaID, err := store.GetOrCreateFormula(ctx, normalized, hash, formula.NotationRPN)
		require.NoError(t, err)

		runID, err := store.CreateRun(ctx, formulaID, "RPN", 10)
		require.NoError(t, err)

		first := &Result{
			RunID:      runID,
			Result:     OutcomeSAT,
			Assignment: map[string]bool{"A": true, "B": false},
			Stdout:     "A -> TRUE\nB -> FALSE",
			RuntimeS:   0.42,
		}
		require.NoError(t, store.InsertResult(ctx, first))

		// Second insert for the same run is a no-op, not a corruption.
		second := &Result{RunID: runID, Result: OutcomeError, ErrorType: ErrorTypeExecution}
		require.NoError(t, store.InsertResult(ctx, second))

		got, err := store.GetResult(ctx, runID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, OutcomeSAT, got.Result)
		require.Equal(t, map[string]bool{"A": true, "B": false}, got.Assignment)
		require.Empty(t, got.ErrorType)
		require.InDelta(t, 0.42, got.RuntimeS, 1e-9)
	})

	t.Run("active and completed run lookups", func(t *testing.T) {
		normalized, hash := uniqueFormula(t)
		formulaID, err := store.GetOrCreateFormula(ctx, normalized, hash, formula.NotationRPN)
		require.NoError(t, err)

		active, err := store.GetActiveRun(ctx, formulaID)
		require.NoError(t, err)
		require.Nil(t, active, "no runs yet")

		runID, err := store.CreateRun(ctx, formulaID, "RPN", 10)
		require.NoError(t, err)

		active, err = store.GetActiveRun(ctx, formulaID)
		require.NoError(t, err)
		require.NotNil(t, active)
		require.Equal(t, runID, active.ID)
		require.Equal(t, StatusCreated, active.Status)

		completed, err := store.GetCompletedRun(ctx, formulaID)
		require.NoError(t, err)
		require.Nil(t, completed, "nothing completed yet")

		require.NoError(t, store.UpdateRunStatus(ctx, runID, StatusCompleted))

		active, err = store.GetActiveRun(ctx, formulaID)
		require.NoError(t, err)
		require.Nil(t, active, "completed run is no longer active")

		completed, err = store.GetCompletedRun(ctx, formulaID)
		require.NoError(t, err)
		require.NotNil(t, completed)
		require.Equal(t, runID, completed.ID)
	})

	t.Run("lookups return nil on miss", func(t *testing.T) {
		run, err := store.GetRun(ctx, 999_999_999)
		require.NoError(t, err)
		require.Nil(t, run)

		ref, err := store.GetRunStatus(ctx, 999_999_999)
		require.NoError(t, err)
		require.Nil(t, ref)

		result, err := store.GetResult(ctx, 999_999_999)
		require.NoError(t, err)
		require.Nil(t, result)

		f, err := store.GetFormula(ctx, 999_999_999)
		require.NoError(t, err)
		require.Nil(t, f)
	})
}
