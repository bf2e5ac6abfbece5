package service

// Logging Standards for Duet
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldSessionID = "session_id"
	LogFieldUserID    = "user_id"
	LogFieldItemID    = "item_id"
	LogFieldPostID    = "post_id"
	LogFieldEditID    = "edit_id"
	LogFieldSignalID  = "signal_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Workflow fields
	LogFieldStatus     = "status"
	LogFieldSignalKind = "signal_kind"
	LogFieldInitiator  = "initiator"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network
	LogFieldPath       = "path"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"

	// Files
	LogFieldFileName = "file_name"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: Poll traffic (match polls, signal and message fetches) and other per-request detail.
//
// INFO: Lifecycle changes: session created, matched, ended; item created; post published.
//
// WARN: Something unexpected happened, but the request still succeeded.
//   - Best-effort purges that failed
//   - Publish attempts that failed after an approval was stored
//   - Rate limiting triggered
//
// ERROR: Failed operations the caller sees as a 5xx.
//
// FATAL: Startup cannot continue (configuration or database unavailable).

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]" or "[Operation] completed successfully"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldSessionID: privacy.MaskSessionID(sessionID),
//     LogFieldUserID:    privacy.MaskUserID(userID),
//     LogFieldInitiator: true,
// }).Info("Session matched")
