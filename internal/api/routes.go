package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// ServiceVersion is stamped at build time via -ldflags.
var ServiceVersion = "dev"

type (
	// Version is the /version response.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
	}

	// HealthStatus is the /health response. Database and Redis report
	// "connected" or "disconnected"; the endpoint itself always answers 200
	// as a liveness signal.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
		Database    string `json:"database"`
		Redis       string `json:"redis"`
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Probes and metadata
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /version", s.handleVersion)

	// Async job pipeline
	mux.HandleFunc("POST /jobs/submit", s.handleSubmitJob)
	mux.HandleFunc("GET /jobs/status/{run_id}", s.handleJobStatus)
	mux.HandleFunc("GET /jobs/result/{run_id}", s.handleJobResult)

	// Synchronous solve
	mux.HandleFunc("POST /sync/solve", s.handleSyncSolve)

	// Catch-all 404
	mux.HandleFunc("/", s.handleNotFound)
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response", slog.String("error", err.Error()))
	}
}

// handleVersion reports the service version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, Version{
		Version:     ServiceVersion,
		ServiceName: "satq",
	})
}

// handleHealth reports liveness together with database and Redis
// connectivity. Probe failures are reported in the body, not the status
// code: a degraded dependency should not get the process restarted.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	dbStatus := "connected"
	if s.deps.Store == nil || !s.deps.Store.Healthy(ctx) {
		dbStatus = "disconnected"
	}

	redisStatus := "connected"
	if s.deps.Broker == nil || !s.deps.Broker.Healthy(ctx) {
		redisStatus = "disconnected"
	}

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "ok",
		ServiceName: "satq",
		Version:     ServiceVersion,
		Uptime:      uptime,
		Database:    dbStatus,
		Redis:       redisStatus,
	})
}

// handleReady answers readiness probes: the solver binary must exist and be
// executable and the database must answer. 503 takes the instance out of
// rotation until both recover.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.checkSolverBinary(); err != nil {
		s.logger.Error("Readiness check failed on solver binary", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	if s.deps.Store == nil || !s.deps.Store.Healthy(ctx) {
		s.logger.Error("Readiness check failed on database")
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("database is not reachable"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "Solver binary is executable and database is connectable.",
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals v and writes it with the given status, falling back to a
// problem response when encoding fails before headers are sent.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
