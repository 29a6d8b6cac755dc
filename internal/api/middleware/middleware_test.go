package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string

	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/status/1", nil))

	require.NotEmpty(t, seen)
	require.NotEqual(t, "unknown", seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	var seen string

	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "client-supplied-id", seen)
	require.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryConvertsPanicToProblem(t *testing.T) {
	handler := Recovery(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/submit", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestRateLimitRejectsWithProblem(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 1, ClientRPS: 1, GlobalBurst: 1, ClientBurst: 1})
	defer limiter.Close()

	handler := RateLimit(limiter, testLogger())(okHandler())

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/status/1", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
}

func TestInMemoryRateLimiterPerClientIsolation(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 1000, ClientRPS: 1, ClientBurst: 1})
	defer limiter.Close()

	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"), "second request from same client is limited")
	require.True(t, limiter.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestInMemoryRateLimiterGlobalTier(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 1, GlobalBurst: 1, ClientRPS: 100})
	defer limiter.Close()

	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.2"), "global bucket applies across clients")
}

func TestInMemoryRateLimiterCleanupEvictsIdleClients(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{
		GlobalRPS:       1000,
		ClientRPS:       10,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Nanosecond,
	})
	defer limiter.Close()

	limiter.Allow("10.0.0.1")
	time.Sleep(time.Millisecond)
	limiter.cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	require.Empty(t, limiter.perClient)
}

func TestCORSPreflight(t *testing.T) {
	cfg := &staticCORSConfig{
		origins: []string{"*"},
		methods: []string{"GET", "POST", "OPTIONS"},
		headers: []string{"Content-Type"},
		maxAge:  600,
	}

	handler := CORS(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/jobs/submit", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	require.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	cfg := &staticCORSConfig{origins: []string{"https://app.satq.io"}}
	handler := CORS(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.satq.io")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "https://app.satq.io", rec.Header().Get("Access-Control-Allow-Origin"))

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.Header.Set("Origin", "https://evil.example")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplyOrdersMiddleware(t *testing.T) {
	var order []string

	tag := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(okHandler(), tag("outer"), tag("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner"}, order)
}

type staticCORSConfig struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c *staticCORSConfig) GetAllowedOrigins() []string { return c.origins }
func (c *staticCORSConfig) GetAllowedMethods() []string { return c.methods }
func (c *staticCORSConfig) GetAllowedHeaders() []string { return c.headers }
func (c *staticCORSConfig) GetMaxAge() int              { return c.maxAge }

func TestLoadConfigRateLimitToggle(t *testing.T) {
	cfg := LoadConfig()
	require.True(t, cfg.Enabled)
	require.Equal(t, defaultGlobalRPS, cfg.GlobalRPS)
	require.Equal(t, defaultClientRPS, cfg.ClientRPS)

	t.Setenv("SATQ_RATE_LIMIT_ENABLED", "false")
	require.False(t, LoadConfig().Enabled)
}
