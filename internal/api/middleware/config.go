package middleware

import (
	"time"

	"github.com/satq-io/satq/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second for two tiers: a global limit
// applied to all requests and a per-client limit keyed by remote host. If
// burst fields are 0 they are computed automatically as 2x the rate.
type Config struct {
	Enabled bool

	GlobalRPS int
	ClientRPS int

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads middleware config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Enabled: config.GetEnvBool("SATQ_RATE_LIMIT_ENABLED", true),

		GlobalRPS: config.GetEnvInt("SATQ_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("SATQ_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("SATQ_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("SATQ_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration("SATQ_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("SATQ_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("SATQ_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
