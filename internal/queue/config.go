// Package queue provides the Redis-backed work queue for solver runs: a
// pending list, a processing list claimed from it by rotation, and per-job
// payload, metadata, and advisory status keys. The queue is transient; the
// database remains the source of truth for run state.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satq-io/satq/internal/config"
)

const (
	defaultPoolMax     = 15
	defaultDialTimeout = 3 * time.Second
	// defaultReadTimeout must exceed the worker's poll timeout so a blocking
	// claim is never cut short by a spurious socket read timeout.
	defaultReadTimeout = 15 * time.Second
)

var (
	// ErrRedisHostEmpty is returned when the redis host is an empty string.
	ErrRedisHostEmpty = errors.New("redis host cannot be empty")

	// ErrInvalidReadTimeout is returned when the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("redis read timeout must be positive")
)

// Config holds Redis connection configuration with production-ready defaults.
type Config struct {
	Host        string
	Port        int
	DB          int
	Password    string
	PoolMax     int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// LoadConfig loads Redis configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Host:        config.GetEnvStr("REDIS_HOST", "localhost"),
		Port:        config.GetEnvInt("REDIS_PORT", 6379),
		DB:          config.GetEnvInt("REDIS_DB", 0),
		Password:    config.GetEnvStr("REDIS_PASSWORD", ""),
		PoolMax:     config.GetEnvInt("REDIS_POOL_MAX_CONN", defaultPoolMax),
		DialTimeout: config.GetEnvDuration("REDIS_DIAL_TIMEOUT", defaultDialTimeout),
		ReadTimeout: config.GetEnvDuration("REDIS_READ_TIMEOUT", defaultReadTimeout),
	}
}

// Validate checks if the Redis configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrRedisHostEmpty
	}

	if c.ReadTimeout <= 0 {
		return ErrInvalidReadTimeout
	}

	return nil
}

// Addr returns the host:port address for the Redis client.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient builds a go-redis client from the configuration.
func NewClient(cfg *Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DB:          cfg.DB,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolMax,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	}), nil
}
