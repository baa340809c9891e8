package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// EdgeLimitConfig holds the coarse per-IP edge limit applied before the
// adaptive limiter sees the request
type EdgeLimitConfig struct {
	RequestsPerMinute int
}

// DefaultEdgeLimit returns the default edge limit (120 requests per minute)
func DefaultEdgeLimit() EdgeLimitConfig {
	return EdgeLimitConfig{
		RequestsPerMinute: 120,
	}
}

// EdgeLimitByIP creates a blunt per-IP limiter that sheds floods cheaply
// before any per-identity state is touched
func EdgeLimitByIP(config EdgeLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Rate limit exceeded"}`))
		}),
	)
}
