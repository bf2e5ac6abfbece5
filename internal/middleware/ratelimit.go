package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"duet/internal/errors"
	"duet/internal/httputil"
	"duet/internal/metrics"
	"duet/internal/ratelimit"
	"duet/internal/service"
	"duet/internal/tracing"

	"github.com/sirupsen/logrus"
)

// RateLimitMiddleware rejects clients that exceed the limiter's quota.
// A failing limiter backend lets requests through.
func RateLimitMiddleware(limiter ratelimit.Limiter, proxies httputil.TrustedProxies, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := proxies.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), clientIP)
			if err != nil {
				logger.WithError(err).WithField(service.LogFieldRemoteIP, clientIP).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.IncrementCounter(metrics.RateLimited, nil, "Requests rejected by the rate limiter")
			logger.WithFields(logrus.Fields{
				service.LogFieldRemoteIP: clientIP,
				service.LogFieldPath:     r.URL.Path,
			}).Warn("Rate limit exceeded")

			limit, window := limiter.Limits()
			appErr := errors.NewRateLimitError(limit, window.String())
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(errors.HTTPStatusCode(appErr))
			_ = json.NewEncoder(w).Encode(errors.ToHTTPResponse(appErr, tracing.GetRequestID(r.Context())))
		})
	}
}
