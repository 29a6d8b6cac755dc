package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/satq-io/satq/internal/api/middleware"
	"github.com/satq-io/satq/internal/formula"
	"github.com/satq-io/satq/internal/jobs"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for the specification.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"` //nolint: tagliatelle
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://satq.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	requestID := middleware.GetRequestID(r.Context())

	if problem.RequestID == "" {
		problem.RequestID = requestID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// GatewayTimeout creates a 504 Gateway Timeout problem.
func GatewayTimeout(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusGatewayTimeout, "Gateway Timeout", detail)
}

// problemFromServiceError maps submission service errors onto the observable
// error kinds: invalid formula 400, unknown run or missing result 404, run
// not terminal 400, broker down 503, anything else 500.
func problemFromServiceError(err error) *ProblemDetail {
	switch {
	case errors.Is(err, formula.ErrInvalidFormula), errors.Is(err, formula.ErrInvalidNotation):
		return BadRequest(err.Error())
	case errors.Is(err, jobs.ErrResultNotReady):
		return BadRequest(err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, jobs.ErrBrokerUnavailable):
		return ServiceUnavailable("Job queue temporarily unavailable")
	default:
		return InternalServerError("An unexpected error occurred while processing the request")
	}
}
