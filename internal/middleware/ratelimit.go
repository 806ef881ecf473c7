package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit allows requestsPerMinute requests across all clients, with a burst of one.
// A non-positive rate rejects every request.
func RateLimit(logger *zap.Logger, requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(0, 0)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Rate limit exceeded",
					zap.String("path", r.URL.Path),
					zap.String("remoteAddr", r.RemoteAddr))
				WriteError(w, http.StatusTooManyRequests, genericErrorMessage(http.StatusTooManyRequests))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
