package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satq-io/satq/internal/api/middleware"
	"github.com/satq-io/satq/internal/jobs"
	"github.com/satq-io/satq/internal/solver"
)

type (
	// JobService is the submission service interface the server depends on,
	// satisfied by jobs.Service.
	JobService interface {
		Submit(ctx context.Context, rawFormula, notation, mode string) (*jobs.SubmitResponse, error)
		Status(ctx context.Context, runID int64) (*jobs.StatusResponse, error)
		Result(ctx context.Context, runID int64) (*jobs.ResultResponse, error)
	}

	// HealthChecker reports whether a backing service answers, satisfied by
	// storage.RunStore and queue.Broker.
	HealthChecker interface {
		Healthy(ctx context.Context) bool
	}

	// SolverRunner invokes the solver for the synchronous endpoint,
	// satisfied by solver.Runner.
	SolverRunner interface {
		Run(ctx context.Context, formulaText string, timeout time.Duration) (*solver.Invocation, error)
		Path() string
	}

	// Dependencies are the runtime collaborators injected into the server,
	// kept separate from ServerConfig so configuration stays pure. Jobs,
	// Store, and Broker are required; Solver enables POST /sync/solve and
	// the readiness binary check; RateLimiter is optional.
	Dependencies struct {
		Jobs        JobService
		Store       HealthChecker
		Broker      HealthChecker
		Solver      SolverRunner
		Modes       *solver.ModeTable
		RateLimiter middleware.RateLimiter
	}

	// Server is the satq HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		deps        *Dependencies
		startTime   time.Time
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates an HTTP server with structured logging and the standard
// middleware stack.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		deps:        deps,
		rateLimiter: deps.RateLimiter,
	}

	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes top-to-bottom: request ID first so every later
	// stage can tag its logs, recovery next to catch panics below it, rate
	// limiting before the request logger so rejected spam is not logged as
	// legitimate traffic.
	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown. It handles graceful
// shutdown on SIGINT and SIGTERM.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting satq API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Stop the rate limiter's background cleanup goroutine.
	if s.rateLimiter != nil {
		if limiter, ok := s.rateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
