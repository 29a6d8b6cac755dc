package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satq-io/satq/internal/config"
)

const (
	defaultPoolMin         = 1
	defaultPoolMax         = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultConnectTimeout  = 5 * time.Second
)

var (
	// ErrDatabaseHostEmpty is returned when the database host is an empty string.
	ErrDatabaseHostEmpty = errors.New("database host cannot be empty")

	// ErrDatabaseNameEmpty is returned when the database name is an empty string.
	ErrDatabaseNameEmpty = errors.New("database name cannot be empty")

	// ErrInvalidPoolBounds is returned when the pool minimum exceeds the maximum.
	ErrInvalidPoolBounds = errors.New("pool minimum cannot exceed pool maximum")
)

// Config holds PostgreSQL connection configuration with production-ready
// defaults. The pool bounds map onto database/sql idle and open connection
// limits: every store operation borrows exactly one connection and returns it
// on every exit path.
type Config struct {
	Host            string
	Port            int
	Name            string
	User            string
	password        string // private so it never leaks through %+v logging
	PoolMin         int
	PoolMax         int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Host:            config.GetEnvStr("DB_HOST", "localhost"),
		Port:            config.GetEnvInt("DB_PORT", 5432),
		Name:            config.GetEnvStr("DB_NAME", "satq"),
		User:            config.GetEnvStr("DB_USER", "satq"),
		password:        config.GetEnvStr("DB_PASSWORD", ""),
		PoolMin:         config.GetEnvInt("DB_POOL_MIN", defaultPoolMin),
		PoolMax:         config.GetEnvInt("DB_POOL_MAX", defaultPoolMax),
		ConnMaxLifetime: config.GetEnvDuration("DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DB_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		ConnectTimeout:  config.GetEnvDuration("DB_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// WithPassword returns a copy of the config with the password set.
// Used by tests that build configs programmatically.
func (c *Config) WithPassword(password string) *Config {
	clone := *c
	clone.password = password

	return &clone
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrDatabaseHostEmpty
	}

	if strings.TrimSpace(c.Name) == "" {
		return ErrDatabaseNameEmpty
	}

	if c.PoolMin > c.PoolMax {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidPoolBounds, c.PoolMin, c.PoolMax)
	}

	return nil
}

// DSN builds the lib/pq keyword/value connection string.
func (c *Config) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.Name),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())),
		"sslmode=disable",
	}

	if c.password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.password))
	}

	return strings.Join(parts, " ")
}

// MaskedDSN returns a DSN representation safe for logging.
func (c *Config) MaskedDSN() string {
	if c.password == "" {
		return c.DSN()
	}

	return strings.Replace(c.DSN(), "password="+c.password, "password=***", 1)
}
