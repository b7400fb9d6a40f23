package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/pkg/protocol"
)

// SessionIDFromContext extracts the session ID from the request context.
// This function type allows decoupling from the auth package.
type SessionIDFromContext func(ctx context.Context) (sessionID string, ok bool)

// RateLimitMiddleware returns middleware that enforces per-session rate limits.
// Requests without a session are limited under a shared anonymous bucket.
func RateLimitMiddleware(limiter *RateLimiter, rpm, burst int, getSession SessionIDFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := getSession(r.Context())
			if !ok {
				sessionID = "anonymous"
			}

			if !limiter.Allow(sessionID, rpm, burst) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(sessionID, rpm)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.Envelope{
					Success: false,
					Error: &protocol.ErrorBody{
						Code:       "RATE_LIMITED",
						Message:    "Too many requests.",
						Suggestion: "Wait a moment and try again.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
