package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/satq-io/satq/internal/api/middleware"
)

// SubmitJobRequest is the POST /jobs/submit request body. Notation and mode
// default to RPN when omitted.
type SubmitJobRequest struct {
	Formula  string `json:"formula"`
	Notation string `json:"notation,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// handleSubmitJob accepts a formula for asynchronous solving. The response
// carries the run id to poll, whether the run is fresh, coalesced onto an
// in-flight run, or answered from the result cache.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, BadRequest("Request body too large"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON request body"))

		return
	}

	resp, err := s.deps.Jobs.Submit(r.Context(), req.Formula, req.Notation, req.Mode)
	if err != nil {
		s.logger.Warn("Submission rejected",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, problemFromServiceError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// hasJSONContentType checks whether the Content-Type header starts with
// "application/json", allowing charset parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
