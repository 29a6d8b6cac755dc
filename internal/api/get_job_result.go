package api

import (
	"net/http"
)

// handleJobResult returns the recorded result of a terminal run. Polling a
// run that is still in flight answers 400 with the current status; unknown
// runs and terminal runs without a result row answer 404.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDFromPath(w, r)
	if !ok {
		return
	}

	resp, err := s.deps.Jobs.Result(r.Context(), runID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromServiceError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}
