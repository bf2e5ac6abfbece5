package errors

import (
	"github.com/sirupsen/logrus"
)

// Entry returns a log entry for err carrying its code, retryability and context.
func Entry(logger logrus.FieldLogger, err error) *logrus.Entry {
	entry := logger.WithError(err)

	if appErr, ok := As(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})

		for k, v := range appErr.Context {
			if k == "value" {
				continue
			}
			entry = entry.WithField(k, v)
		}
	}

	return entry
}

// LogError logs an error with structured context
func LogError(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry := Entry(logger, err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Error(message)
}

// LogWarn logs a warning with structured context
func LogWarn(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry := Entry(logger, err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Warn(message)
}

// LogByStatus logs client faults at warn level and server faults at error level.
func LogByStatus(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	if HTTPStatusCode(err) < 500 {
		LogWarn(logger, err, message, fields...)
		return
	}
	LogError(logger, err, message, fields...)
}
