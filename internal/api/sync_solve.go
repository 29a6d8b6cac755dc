package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/satq-io/satq/internal/formula"
	"github.com/satq-io/satq/internal/solver"
)

// SyncSolveResponse is the POST /sync/solve response: the verdict for one
// blocking solver invocation, with no run row or queue involvement.
type SyncSolveResponse struct {
	Msg        string          `json:"msg"`
	Formula    string          `json:"formula"`
	Result     string          `json:"result"`
	Assignment map[string]bool `json:"assignment"`
	ReturnCode int             `json:"return_code"` //nolint: tagliatelle
	Runtime    float64         `json:"runtime"`
}

// handleSyncSolve solves a formula synchronously. The body is the raw
// formula as text/plain; the request blocks until the solver finishes or its
// budget runs out. Parse errors answer 400, a solver timeout answers 504,
// and a missing binary answers 500.
func (s *Server) handleSyncSolve(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(slog.String("path", r.URL.Path))

	if s.deps.Solver == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Synchronous solving is not configured"))

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, BadRequest("Request body too large"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Failed to read request body"))

		return
	}

	normalized, _, err := formula.NormalizeAndHash(string(body), formula.NotationRPN)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	inv, err := s.deps.Solver.Run(r.Context(), normalized, s.deps.Modes.Timeout(solver.ModeRPN))

	switch {
	case err == nil:

	case errors.Is(err, solver.ErrTimeout):
		logger.Warn("Synchronous solve timed out")
		WriteErrorResponse(w, r, s.logger, GatewayTimeout("Solver execution timed out"))

		return

	case errors.Is(err, solver.ErrBinaryNotFound):
		logger.Error("Solver binary not available")
		WriteErrorResponse(w, r, s.logger, InternalServerError("Solver binary not available"))

		return

	default:
		logger.Error("Solver execution failed", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Solver execution failed"))

		return
	}

	switch inv.ExitCode {
	case solver.ExitSAT, solver.ExitUNSAT:
		verdict, assignment := solver.ParseOutput(inv.Stdout)

		s.writeJSON(w, r, http.StatusOK, SyncSolveResponse{
			Msg:        "Formula solved successfully.",
			Formula:    normalized,
			Result:     verdict,
			Assignment: assignment,
			ReturnCode: inv.ExitCode,
			Runtime:    inv.Runtime.Seconds(),
		})

	case solver.ExitParseError:
		detail := inv.Stderr
		if detail == "" {
			detail = "Formula parsing failed"
		}

		WriteErrorResponse(w, r, s.logger, BadRequest(detail))

	default:
		WriteErrorResponse(w, r, s.logger, InternalServerError(
			fmt.Sprintf("Unexpected solver return code %d", inv.ExitCode),
		))
	}
}

// checkSolverBinary verifies the configured solver executable for the
// readiness probe.
func (s *Server) checkSolverBinary() error {
	if s.deps.Solver == nil {
		return errors.New("solver is not configured")
	}

	return solver.CheckBinary(s.deps.Solver.Path())
}
