package database

import (
	"context"
	"fmt"
	"iter"
	"time"

	"duet/internal/models"
)

// SaveSignal stores an unprocessed signal and sets its id.
func (d *Database) SaveSignal(ctx context.Context, s *models.Signal) error {
	payload, err := d.encryptor.Encrypt(s.Payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt signal payload: %w", err)
	}

	res, err := d.db.ExecContext(ctx, InsertSignalQuery,
		s.SessionID,
		s.FromUserID,
		s.ToUserID,
		s.Kind,
		payload,
		utc(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read signal id: %w", err)
	}
	s.ID = id
	s.Processed = false
	return nil
}

// UnprocessedSignals streams the recipient's pending signals oldest first. Each call
// runs a fresh query; stopping early releases the underlying rows.
func (d *Database) UnprocessedSignals(ctx context.Context, sessionID, recipientID string) iter.Seq2[*models.Signal, error] {
	return func(yield func(*models.Signal, error) bool) {
		rows, err := d.db.QueryContext(ctx, SelectUnprocessedSignalsQuery, sessionID, recipientID)
		if err != nil {
			yield(nil, fmt.Errorf("failed to fetch signals: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			s := &models.Signal{}
			var payload string
			if err := rows.Scan(&s.ID, &s.SessionID, &s.FromUserID, &s.ToUserID, &s.Kind, &payload, &s.Processed, &s.CreatedAt); err != nil {
				yield(nil, fmt.Errorf("failed to scan signal: %w", err))
				return
			}
			if s.Payload, err = d.encryptor.Decrypt(payload); err != nil {
				yield(nil, fmt.Errorf("failed to decrypt signal payload: %w", err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate signals: %w", err))
		}
	}
}

// MarkSignalProcessed flips the processed flag. Unknown ids and repeats are no-ops.
func (d *Database) MarkSignalProcessed(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, MarkSignalProcessedQuery, id); err != nil {
		return fmt.Errorf("failed to mark signal processed: %w", err)
	}
	return nil
}

// DeleteSessionSignals removes every signal of a session.
func (d *Database) DeleteSessionSignals(ctx context.Context, sessionID string) (int64, error) {
	res, err := d.db.ExecContext(ctx, DeleteSessionSignalsQuery, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge signals: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSignalsOfEndedSessions removes signals left behind by sessions ended before cutoff.
func (d *Database) DeleteSignalsOfEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return retryableDBOperation(ctx, func() (int64, error) {
		res, err := d.db.ExecContext(ctx, DeleteSignalsOfEndedSessionsQuery, utc(cutoff))
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, "delete stale signals")
}
