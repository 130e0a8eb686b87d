package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/tripletake/tripletake/internal/auth"
	"github.com/tripletake/tripletake/internal/logger"
)

// Middleware rejects requests exceeding the per-owner rate limit with 429.
// Requests without an owner identity share a single anonymous bucket.
func Middleware(rl RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.OwnerID(r.Context())
			if !ok || key == "" {
				key = "anonymous"
			}

			if !rl.Allow(key) {
				logger.Ctx(r.Context()).Warn("rate limit exceeded",
					"owner_id", key,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":    "rate_limited",
						"message": "too many requests",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
