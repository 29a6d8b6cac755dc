// Package solver invokes the external SAT solver executable and interprets
// its output. The binary is a black box: a pure function from stdin and exit
// code to outcome. It is never inspected beyond the readiness probe.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/satq-io/satq/internal/config"
)

// Solver exit codes. Anything else is unexpected.
const (
	ExitSAT        = 10
	ExitUNSAT      = 20
	ExitParseError = 30
)

// Verdicts produced by ParseOutput.
const (
	VerdictSAT   = "SAT"
	VerdictUNSAT = "UNSAT"
)

var (
	// ErrTimeout is returned when the solver exceeds its wall-clock budget.
	ErrTimeout = errors.New("solver timed out")

	// ErrBinaryNotFound is returned when the configured executable does not exist.
	ErrBinaryNotFound = errors.New("solver binary not found")

	// ErrNotExecutable is returned by CheckBinary when the path exists but is
	// not an executable regular file.
	ErrNotExecutable = errors.New("solver binary is not executable")
)

// Invocation is one completed solver execution. Runtime is measured with the
// monotonic clock.
type Invocation struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Runtime  time.Duration
}

// Runner executes the configured solver binary.
type Runner struct {
	path string
}

// NewRunner creates a Runner for the given executable path.
func NewRunner(path string) *Runner {
	return &Runner{path: path}
}

// PathFromEnv returns the configured solver path (SOLVER_PATH_FAST).
func PathFromEnv() string {
	return config.GetEnvStr("SOLVER_PATH_FAST", "./bin/satsolver_opt")
}

// Path returns the executable path this runner invokes.
func (r *Runner) Path() string {
	return r.path
}

// Run spawns the solver with the formula on stdin and a hard wall-clock
// timeout. Returns the invocation for any exit code, including non-zero ones;
// the caller classifies codes. Returns ErrTimeout when the budget is
// exhausted and ErrBinaryNotFound when the executable is missing.
func (r *Runner) Run(ctx context.Context, formulaText string, timeout time.Duration) (*Invocation, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, r.path)
	cmd.Stdin = strings.NewReader(formulaText)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Invocation{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitCode(),
				Runtime:  elapsed,
			}, nil
		}

		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, r.path)
		}

		return nil, fmt.Errorf("solver execution failed: %w", err)
	}

	return &Invocation{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
		Runtime:  elapsed,
	}, nil
}

// ParseOutput interprets solver stdout. Output starting with UNSAT yields
// (VerdictUNSAT, nil); otherwise lines of the form "VAR -> TRUE|FALSE" are
// collected into an assignment and lines without an arrow are ignored.
func ParseOutput(stdout string) (string, map[string]bool) {
	stdout = strings.TrimSpace(stdout)

	if strings.HasPrefix(stdout, VerdictUNSAT) {
		return VerdictUNSAT, nil
	}

	assignment := make(map[string]bool)

	for _, line := range strings.Split(stdout, "\n") {
		variable, value, found := strings.Cut(line, "->")
		if !found {
			continue
		}

		assignment[strings.TrimSpace(variable)] = strings.TrimSpace(value) == "TRUE"
	}

	return VerdictSAT, assignment
}

// CheckBinary verifies the solver path exists, is a regular file, and is
// executable. Used by the readiness probe.
func CheckBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
		}

		return fmt.Errorf("stat solver binary: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNotExecutable, path)
	}

	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}

	return nil
}
