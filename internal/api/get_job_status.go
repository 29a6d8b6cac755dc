package api

import (
	"net/http"
	"strconv"
)

// handleJobStatus reports the current status of a run.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDFromPath(w, r)
	if !ok {
		return
	}

	resp, err := s.deps.Jobs.Status(r.Context(), runID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromServiceError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// runIDFromPath parses the run_id path segment, answering 400 on garbage.
func (s *Server) runIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("run_id")

	runID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || runID <= 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("run_id must be a positive integer"))

		return 0, false
	}

	return runID, true
}
