package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"duet/internal/httputil"
	"duet/internal/privacy"
	"duet/internal/service"
	"duet/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	LogResponseBody   bool
	MaxBodySize       int      // Maximum bytes to log
	SensitiveHeaders  []string // Headers to mask
	SkipPaths         []string // Path prefixes to skip
}

// DefaultDetailedLoggingConfig is used by the server when started with -verbose.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		LogResponseBody:   false,
		MaxBodySize:       4096,
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie", "x-api-key",
		},
		SkipPaths: []string{
			"/metrics", "/health", "/recordings/",
		},
	}
}

// DetailedLoggingMiddleware logs request and response bodies at debug level.
// JSON bodies are logged with identifiers, chat content and signal payloads masked.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, skip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			logRequestDetails(logger, r, requestInfo, config)

			if !config.LogResponseBody {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				ResponseWriter: w,
				body:           bytes.NewBuffer(nil),
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, requestInfo, config)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: requestInfo.RequestID,
		service.LogFieldTraceID:   requestInfo.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldPath:      r.URL.Path,
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string)
		for name, values := range r.Header {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	if config.LogRequestBody && isJSON(r.Header.Get("Content-Type")) &&
		r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			// Restore body for the actual handler
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = maskJSONBody(body)
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestInfo.RequestID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}

	if n := capture.body.Len(); n > config.MaxBodySize {
		fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", n)
	} else if n > 0 {
		fields["response_body"] = maskJSONBody(capture.body.Bytes())
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// maskJSONBody masks sensitive top-level fields of a JSON object. Anything else is summarized.
func maskJSONBody(body []byte) interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return fmt.Sprintf("[non-object body %d bytes]", len(body))
	}
	return privacy.MaskSensitiveFields(obj)
}

// responseCaptureWrapper captures response data for logging
type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if err == nil {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

// isSensitiveHeader checks if a header should be masked
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}
