package config

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/satq-io/satq/migrations"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second
)

// TestDatabase encapsulates test database resources for cleanup.
// Used by integration tests across multiple packages to maintain consistent
// test infrastructure.
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *sql.DB
	URL        string
}

// SetupTestDatabase creates a PostgreSQL container and applies the embedded
// migrations. This is the standard way to set up integration test databases
// across all packages.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		ctx := context.Background()
//		testDB := config.SetupTestDatabase(ctx, t)
//		// ... your test code
//	}
//
// Container and connection teardown is registered with t.Cleanup.
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("satq_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "Failed to open database")

	if err := migrations.Up(conn); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
		URL:        connStr,
	}
}

// TestRedis encapsulates a throwaway Redis container for broker integration
// tests. URL is in redis:// form suitable for redis.ParseURL.
type TestRedis struct {
	Container *tcredis.RedisContainer
	URL       string
}

// SetupTestRedis creates a Redis container for broker integration tests.
// Teardown is registered with t.Cleanup.
func SetupTestRedis(ctx context.Context, t *testing.T) *TestRedis {
	t.Helper()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "Failed to start redis container")
	require.NotNil(t, redisContainer, "redis container is nil")

	url, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get redis connection string")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(redisContainer)
	})

	return &TestRedis{
		Container: redisContainer,
		URL:       url,
	}
}
