package errors

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewMissingFieldError is the validation error for an absent required field.
func NewMissingFieldError(field string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("%s is required", field)).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("%s is required", field))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRaceLostError reports a conditional transition that a concurrent caller won first.
func NewRaceLostError(resource, identifier string) *AppError {
	return New(ErrCodeRaceLost, fmt.Sprintf("%s was taken by another caller", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage("Someone else got there first, try another one")
}

// NewPreconditionError rejects a workflow step whose prior state does not allow it.
func NewPreconditionError(resource, identifier, reason string) *AppError {
	return New(ErrCodePreconditionFailed, reason).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(reason)
}

// NewForbiddenError rejects an actor that may not perform the step.
func NewForbiddenError(resource, identifier, reason string) *AppError {
	return New(ErrCodeForbidden, reason).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(reason)
}

// NewAPIError creates an error for a failed call against the remote API
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeRemoteAPI, "remote API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}

	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// NewRecordingError creates a recording storage error
func NewRecordingError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeRecordingStorage, fmt.Sprintf("recording %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Recording could not be stored")
}

// Context helpers

// ContextWithSession tags ctx with a session id picked up by FromContext.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// ContextWithUser tags ctx with a user id picked up by FromContext.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ContextWithRequest tags ctx with request and trace ids picked up by FromContext.
func ContextWithRequest(ctx context.Context, requestID, traceID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return context.WithValue(ctx, traceIDKey, traceID)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}
	if userID := ctx.Value(userIDKey); userID != nil {
		errorCtx["user_id"] = userID
	}
	if sessionID := ctx.Value(sessionIDKey); sessionID != nil {
		errorCtx["session_id"] = sessionID
	}

	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}

	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}

	return err
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRaceLost:
		return http.StatusConflict
	case ErrCodePreconditionFailed:
		return http.StatusPreconditionFailed
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRemoteAPI:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON envelope of every failed API call.
type HTTPErrorResponse struct {
	Error struct {
		Code      ErrorCode   `json:"code"`
		Message   string      `json:"message"`
		Retryable bool        `json:"retryable"`
		Context   interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	response.Error.Retryable = appErr.Retryable
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			// "value" may echo user content
			if k != "password" && k != "token" && k != "secret" && k != "value" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
