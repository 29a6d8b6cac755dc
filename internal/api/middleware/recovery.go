package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery creates a middleware that recovers from handler panics, logs the
// stack trace, and answers with an RFC 7807 problem document.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(ctx context.Context) {
				if err := recover(); err != nil {
					requestID := GetRequestID(ctx)

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", requestID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					problem := struct {
						Type      string `json:"type"`
						Title     string `json:"title"`
						Status    int    `json:"status"`
						Detail    string `json:"detail"`
						Instance  string `json:"instance"`
						RequestID string `json:"request_id"` //nolint: tagliatelle
					}{
						Type:      fmt.Sprintf("https://satq.io/problems/%d", http.StatusInternalServerError),
						Title:     "Internal Server Error",
						Status:    http.StatusInternalServerError,
						Detail:    "An unexpected error occurred while processing the request",
						Instance:  r.URL.Path,
						RequestID: requestID,
					}

					w.Header().Set("Content-Type", "application/problem+json")
					w.WriteHeader(http.StatusInternalServerError)

					if err := json.NewEncoder(w).Encode(problem); err != nil {
						logger.Error("Failed to encode panic response",
							slog.Any("error", err),
							slog.String("request_id", requestID),
						)
					}
				}
			}(r.Context())

			next.ServeHTTP(w, r)
		})
	}
}
