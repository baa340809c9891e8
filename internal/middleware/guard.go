package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/models"
	pkghttp "github.com/qistpay/authcore/pkg/http"
)

// RateLimitChecker is the decision surface of the adaptive limiter
type RateLimitChecker interface {
	CheckRateLimit(ctx context.Context, userID, ipAddress, endpoint, method string) models.RateLimitDecision
}

// AdaptiveGuard applies the adaptive rate limiter to every request.
// Authenticated requests are tracked per user, anonymous ones per IP.
// Denials answer 429 with standard rate limit headers.
func AdaptiveGuard(limiter RateLimitChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if claims := auth.GetUserFromContext(r); claims != nil {
				userID = claims.UserID
			}
			ip := pkghttp.ExtractClientIP(r)

			decision := limiter.CheckRateLimit(r.Context(), userID, ip, r.URL.Path, r.Method)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				if decision.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				}
				pkghttp.WriteTooManyRequests(w, decision.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
