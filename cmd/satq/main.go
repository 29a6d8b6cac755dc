// Package main provides the satq API service: formula submission, status and
// result polling, and the synchronous solve endpoint.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/satq-io/satq/internal/api"
	"github.com/satq-io/satq/internal/api/middleware"
	"github.com/satq-io/satq/internal/jobs"
	"github.com/satq-io/satq/internal/queue"
	"github.com/satq-io/satq/internal/solver"
	"github.com/satq-io/satq/internal/storage"
)

const name = "satq"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s %s\n", name, api.ServiceVersion)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting satq service",
		slog.String("service", name),
		slog.String("version", api.ServiceVersion),
		slog.String("address", serverConfig.Address()),
	)

	middlewareConfig := middleware.LoadConfig()

	var rateLimiter middleware.RateLimiter
	if middlewareConfig.Enabled {
		rateLimiter = middleware.NewInMemoryRateLimiter(middlewareConfig)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", middlewareConfig.GlobalRPS),
			slog.Int("client_rps", middlewareConfig.ClientRPS),
		)
	} else {
		logger.Warn("Rate limiting disabled via SATQ_RATE_LIMIT_ENABLED")
	}

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	runStore, err := storage.NewRunStore(dbConn)
	if err != nil {
		logger.Error("Failed to create run store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Run store initialized", slog.String("database", storageConfig.MaskedDSN()))

	queueConfig := queue.LoadConfig()

	redisClient, err := queue.NewClient(queueConfig)
	if err != nil {
		logger.Error("Failed to create redis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = redisClient.Close()
	}()

	broker := queue.NewBroker(redisClient)

	logger.Info("Queue broker initialized", slog.String("redis", queueConfig.Addr()))

	modes := solver.LoadModeTableFromEnv()
	runner := solver.NewRunner(solver.PathFromEnv())
	service := jobs.NewService(runStore, broker, modes)

	server := api.NewServer(serverConfig, &api.Dependencies{
		Jobs:        service,
		Store:       runStore,
		Broker:      broker,
		Solver:      runner,
		Modes:       modes,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("satq service stopped")
}
