// Package main provides the satq worker: it claims queued runs, invokes the
// solver binary under each run's timeout, and records the outcome.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/satq-io/satq/internal/api"
	"github.com/satq-io/satq/internal/queue"
	"github.com/satq-io/satq/internal/solver"
	"github.com/satq-io/satq/internal/storage"
	"github.com/satq-io/satq/internal/worker"
)

const name = "satq-worker"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s %s\n", name, api.ServiceVersion)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

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

	queueConfig := queue.LoadConfig()

	pollTimeout := worker.PollTimeoutFromEnv()
	if queueConfig.ReadTimeout <= pollTimeout {
		logger.Error("Redis read timeout must exceed the worker poll timeout",
			slog.Duration("read_timeout", queueConfig.ReadTimeout),
			slog.Duration("poll_timeout", pollTimeout),
		)
		os.Exit(1)
	}

	redisClient, err := queue.NewClient(queueConfig)
	if err != nil {
		logger.Error("Failed to create redis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = redisClient.Close()
	}()

	broker := queue.NewBroker(redisClient)
	modes := solver.LoadModeTableFromEnv()
	runner := solver.NewRunner(solver.PathFromEnv())

	logger.Info("Starting satq worker",
		slog.String("service", name),
		slog.String("version", api.ServiceVersion),
		slog.String("solver_path", runner.Path()),
		slog.Duration("poll_timeout", pollTimeout),
	)

	w := worker.New(runStore, broker, runner, modes, worker.WithPollTimeout(pollTimeout))
	w.InstallSignalHandlers()
	w.Run(context.Background())

	logger.Info("satq worker stopped")
}
