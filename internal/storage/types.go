// Package storage provides the PostgreSQL record of formulas, runs, and
// results. The store is the source of truth for the job pipeline; the broker
// only holds transient queue state.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")
)

// Status is the lifecycle state of a run. Transitions are monotonic along
// CREATED -> QUEUED -> PROCESSING -> terminal and a terminal run is never
// mutated again.
type Status string

// Run lifecycle states.
const (
	StatusCreated    Status = "CREATED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimeout    Status = "TIMEOUT"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status is final. finished_at is stamped on the
// first transition into this set.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Outcome is the recorded solver verdict for a run.
type Outcome string

// Solver verdicts.
const (
	OutcomeSAT     Outcome = "SAT"
	OutcomeUNSAT   Outcome = "UNSAT"
	OutcomeError   Outcome = "ERROR"
	OutcomeTimeout Outcome = "TIMEOUT"
)

// Error types recorded on failed results.
const (
	ErrorTypeParseError     = "PARSE_ERROR"
	ErrorTypeUnexpectedRC   = "UNEXPECTED_RC"
	ErrorTypeTimeout        = "TIMEOUT"
	ErrorTypeBinaryNotFound = "BINARY_NOT_FOUND"
	ErrorTypeExecution      = "EXECUTION_ERROR"
)

type (
	// Formula is the immutable canonical representation of a submitted
	// expression. The hash is unique; the row is never updated after creation.
	Formula struct {
		ID              int64
		NormalizedInput string
		Hash            string
		Notation        string
		CreatedAt       time.Time
	}

	// Run is one attempt at solving a formula.
	Run struct {
		ID         int64
		FormulaID  int64
		Status     Status
		CreatedAt  time.Time
		StartedAt  *time.Time
		FinishedAt *time.Time
		TimeoutS   int
		Mode       string
	}

	// RunRef is the narrow (id, status) projection used by the dedup lookups.
	RunRef struct {
		ID     int64
		Status Status
	}

	// Result is the outcome of a run. Assignment is populated only for SAT.
	// ErrorType and ErrorMessage are empty strings when the run succeeded.
	Result struct {
		RunID        int64
		Result       Outcome
		Assignment   map[string]bool
		Stdout       string
		Stderr       string
		ErrorType    string
		ErrorMessage string
		RuntimeS     float64
	}
)
