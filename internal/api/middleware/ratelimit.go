package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	defaultGlobalRPS           int = 100
	defaultClientRPS           int = 10
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
	maxClients                 int = 10000
)

type (
	// RateLimiter decides whether a request from the given client should be
	// allowed. Client keys are remote addresses; an empty key only counts
	// against the global limit.
	RateLimiter interface {
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with token buckets from
	// golang.org/x/time/rate: one global bucket plus one bucket per client.
	// Idle client buckets are evicted by a background cleanup goroutine.
	// Suitable for single-node deployments.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
	}

	// clientLimiter tracks rate limit state for a single client address.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates an in-memory rate limiter with a global tier
// and a per-client tier. Burst capacity defaults to 2x the sustained rate
// unless overridden in the config.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       config.ClientRPS,
		clientBurst:     computeBurstCapacity(config.ClientRPS, config.ClientBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      config.MaxClients,
	}

	rl.startCleanup()

	return rl
}

func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the client bucket.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	if clientKey == "" {
		return true
	}

	rl.mu.RLock()
	cl, ok := rl.perClient[clientKey]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if cl, ok = rl.perClient[clientKey]; !ok {
			cl = &clientLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
				lastAccess: time.Now(),
			}
			rl.perClient[clientKey] = cl

			if len(rl.perClient) >= rl.maxClients {
				slog.Warn("Rate limiter reached max tracked clients",
					slog.Int("clients", len(rl.perClient)),
					slog.Int("max_clients", rl.maxClients),
				)
			}
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval == 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perClient, key)
		}
	}
}

// RateLimit returns a middleware that enforces the limiter and answers 429
// with an RFC 7807 problem document when a request is rejected. Clients are
// keyed by remote host.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKeyFromRequest(r)) {
				requestID := GetRequestID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeProblem(w, r, http.StatusTooManyRequests, detail, requestID); err != nil {
					logger.Error("Failed to write rate limit response",
						slog.String("request_id", requestID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKeyFromRequest extracts the remote host as the per-client key.
func clientKeyFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// writeProblem writes a minimal RFC 7807 document from middleware, where the
// api package's richer helpers are not importable.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail, requestID string) error {
	problem := struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		Status    int    `json:"status"`
		Detail    string `json:"detail"`
		Instance  string `json:"instance"`
		RequestID string `json:"request_id"` //nolint: tagliatelle
	}{
		Type:      fmt.Sprintf("https://satq.io/problems/%d", status),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
