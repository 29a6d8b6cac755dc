package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Connection wraps a database/sql pool configured from Config. The embedded
// *sql.DB is the process-wide pool singleton: initialized once at startup,
// borrowed per operation, closed on shutdown.
type Connection struct {
	*sql.DB
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity
// with an immediate ping bounded by the configured connect timeout.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Connection{DB: db}, nil
}

// NewConnectionFromDB wraps an existing pool. Used by tests that provision
// their own database (testcontainers).
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{DB: db}
}

// Healthy reports whether the database answers a ping within the context
// deadline. Used by the health and readiness probes.
func (c *Connection) Healthy(ctx context.Context) bool {
	return c.PingContext(ctx) == nil
}
