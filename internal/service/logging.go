package service

import (
	"context"

	"duet/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerboseLogging marks ctx so identifiers are logged unmasked.
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext creates a logger entry tagged with the service name
func LogWithContext(ctx context.Context, logger *logrus.Logger, service string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		LogFieldService: service,
		"verbose":       IsVerboseLogging(ctx),
	})
}

// userField returns userID as-is in verbose mode and masked otherwise.
func userField(ctx context.Context, userID string) string {
	if IsVerboseLogging(ctx) {
		return userID
	}
	return privacy.MaskUserID(userID)
}

func sessionField(ctx context.Context, sessionID string) string {
	if IsVerboseLogging(ctx) {
		return sessionID
	}
	return privacy.MaskSessionID(sessionID)
}

// LogSessionEvent logs a session lifecycle change with privacy controls
func LogSessionEvent(ctx context.Context, logger *logrus.Logger, event, sessionID, userID string) {
	logger.WithFields(logrus.Fields{
		LogFieldSessionID: sessionField(ctx, sessionID),
		LogFieldUserID:    userField(ctx, userID),
	}).Info(event)
}

// LogRelayPoll logs poll traffic. Polls are frequent, so only non-empty ones reach info in verbose mode.
func LogRelayPoll(ctx context.Context, logger *logrus.Logger, what, sessionID string, count int) {
	entry := logger.WithFields(logrus.Fields{
		LogFieldSessionID: sessionField(ctx, sessionID),
		LogFieldCount:     count,
	})
	if count > 0 && IsVerboseLogging(ctx) {
		entry.Infof("Fetched %s", what)
		return
	}
	entry.Debugf("Fetched %s", what)
}
