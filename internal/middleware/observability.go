package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"duet/internal/errors"
	"duet/internal/httputil"
	"duet/internal/metrics"
	"duet/internal/service"
	"duet/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TraceIDHeader carries the OpenTelemetry trace id back to clients.
const TraceIDHeader = "X-Trace-ID"

const maxRequestIDLength = 64

// ObservabilityMiddleware adds metrics collection and tracing to HTTP requests
func ObservabilityMiddleware(logger *logrus.Logger, proxies httputil.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.WithOtelTracing(r.Context(), "http_request")
			defer span.End()

			requestID := incomingRequestID(r)
			if requestID == "" {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())

			requestInfo := tracing.GetRequestInfo(ctx)
			ctx = errors.ContextWithRequest(ctx, requestInfo.RequestID, requestInfo.TraceID)
			r = r.WithContext(ctx)

			w.Header().Set(tracing.RequestIDHeader, requestInfo.RequestID)
			if requestInfo.TraceID != "" {
				w.Header().Set(TraceIDHeader, requestInfo.TraceID)
			}

			route := routeTemplate(r)
			clientIP := proxies.ClientIP(r)

			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", r.URL.Path),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP),
			)

			wrapper := &responseWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			metrics.IncrementCounter("http_requests_active", nil, "Currently active HTTP requests")
			defer metrics.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
				attribute.Int64("http.request.duration_ms", duration.Milliseconds()),
			)

			if wrapper.statusCode >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			labels := map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": strconv.Itoa(wrapper.statusCode),
			}
			metrics.IncrementCounter(metrics.HTTPRequests, labels, "HTTP requests by route and status")
			metrics.RecordTimer(metrics.HTTPRequestDuration, duration, labels)

			// Polls arrive every second per client; successful ones stay at debug.
			logLevel := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= 500:
				logLevel = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				logLevel = logrus.WarnLevel
			case r.Method == http.MethodGet || strings.HasSuffix(route, "/match"):
				logLevel = logrus.DebugLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestInfo.RequestID,
				service.LogFieldTraceID:    requestInfo.TraceID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldPath:       route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// incomingRequestID accepts a caller supplied id when it is short and printable.
func incomingRequestID(r *http.Request) string {
	id := r.Header.Get(tracing.RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return id
}

// routeTemplate keeps metric labels bounded by using the matched mux template instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
