package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"duet/internal/errors"
	"duet/internal/service"
	"duet/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError renders err as the AppError envelope. Server faults are logged with
// their cause; client faults are already logged by the observability middleware.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	requestID := tracing.GetRequestID(r.Context())

	if status >= http.StatusInternalServerError {
		fields := logrus.Fields{
			service.LogFieldRequestID: requestID,
			service.LogFieldErrorCode: errors.GetCode(err),
		}
		for k, v := range errors.FromContext(r.Context()) {
			fields[k] = v
		}
		s.logger.WithFields(fields).WithError(err).Error("Request failed")
		tracing.RecordError(r.Context(), err, attribute.String("error.code", string(errors.GetCode(err))))
	}

	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}

// decodeJSON reads a bounded JSON body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return errors.NewValidationError("body", "", "request body too large")
		case stderrors.Is(err, io.EOF):
			return errors.New(errors.ErrCodeInvalidInput, "request body is required")
		default:
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid JSON body").
				WithUserMessage("Request body is not valid JSON")
		}
	}
	return nil
}

// queryInt parses an optional integer query parameter; absent yields def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, raw, "must be an integer")
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter; absent yields nil.
func queryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.NewValidationError(name, raw, "must be true or false")
	}
	return &v, nil
}
