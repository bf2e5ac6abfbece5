package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duet/internal/constants"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// retryableDBOperation runs a maintenance write, retrying lock contention with linear backoff.
func retryableDBOperation(ctx context.Context, operation func() (int64, error), operationName string) (int64, error) {
	var lastErr error

	maxAttempts := constants.DefaultDatabaseRetryAttempts
	initialBackoff := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		n, err := operation()
		if err == nil {
			return n, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return 0, fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
		}

		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * initialBackoff
		if backoff > time.Duration(constants.DefaultMaxBackoffMs)*time.Millisecond {
			backoff = time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return 0, fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// IsRetryableError reports whether err is a transient lock or connection failure worth retrying
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked || sqliteErr.Code == sqlite3.ErrIoErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// lock wait timeout, deadlock
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}

	errStr := err.Error()
	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "connection refused") {
		return true
	}

	return false
}
