package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/logic/ratelimit"
)

// RateLimit rejects requests with 429 once the client IP has used up its
// allowance. A nil limiter disables the check.
func RateLimit(limiter *ratelimit.KeyedLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(ClientIP(r)) {
				LoggerFromRequest(r, logger).Debug("rate limited",
					zap.String("path", r.URL.Path), zap.String("ip", ClientIP(r)))
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
