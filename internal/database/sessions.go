package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duet/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var participantB, targetUserID, recordingPath sql.NullString
	s := &models.Session{}

	err := row.Scan(
		&s.ID,
		&s.ParticipantA,
		&participantB,
		&targetUserID,
		&s.Status,
		&recordingPath,
		&s.RecordingSize,
		&s.RecordingDuration,
		&s.CallDuration,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ParticipantB = stringPtr(participantB)
	s.TargetUserID = stringPtr(targetUserID)
	s.RecordingPath = stringPtr(recordingPath)
	return s, nil
}

func (d *Database) querySession(ctx context.Context, query string, args ...any) (*models.Session, error) {
	s, err := scanSession(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (d *Database) querySessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CreateSession inserts a waiting session.
func (d *Database) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := d.db.ExecContext(ctx, InsertSessionQuery,
		s.ID,
		s.ParticipantA,
		nullString(s.TargetUserID),
		utc(s.CreatedAt),
		utc(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns nil, nil when the session does not exist.
func (d *Database) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := d.querySession(ctx, SelectSessionByIDQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// MatchSession writes joinerID into slot B only while the session is still waiting,
// not created by the joiner and not reserved for someone else. It reports whether this call won.
func (d *Database) MatchSession(ctx context.Context, id, joinerID string, at time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, MatchSessionQuery, joinerID, utc(at), id, joinerID, joinerID)
	if err != nil {
		return false, fmt.Errorf("failed to match session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read match result: %w", err)
	}
	return n == 1, nil
}

// EndSession moves a session to ended. It reports false when it was already ended or missing.
func (d *Database) EndSession(ctx context.Context, id string, callDuration int, at time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, EndSessionQuery, callDuration, callDuration, utc(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read end result: %w", err)
	}
	return n == 1, nil
}

// CancelWaitingSession ends a session only while nobody has joined it yet.
func (d *Database) CancelWaitingSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, CancelWaitingSessionQuery, utc(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result: %w", err)
	}
	return n == 1, nil
}

// OldestWaitingSession returns the FIFO head of the waiting pool that excludingUserID could join.
func (d *Database) OldestWaitingSession(ctx context.Context, excludingUserID string) (*models.Session, error) {
	s, err := d.querySession(ctx, SelectOldestWaitingSessionQuery, excludingUserID, excludingUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find waiting session: %w", err)
	}
	return s, nil
}

// FindLinkedSession returns the newest waiting or active session linking the two users in either order.
func (d *Database) FindLinkedSession(ctx context.Context, userID, otherID string) (*models.Session, error) {
	s, err := d.querySession(ctx, SelectLinkedSessionQuery,
		userID, otherID,
		otherID, userID,
		userID, otherID,
		otherID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find linked session: %w", err)
	}
	return s, nil
}

// ListWaitingSessions returns open (untargeted) waiting sessions, newest first.
func (d *Database) ListWaitingSessions(ctx context.Context) ([]*models.Session, error) {
	sessions, err := d.querySessions(ctx, SelectWaitingSessionsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting sessions: %w", err)
	}
	return sessions, nil
}

// SetSessionRecording stores the uploaded recording reference. It reports whether the session exists.
func (d *Database) SetSessionRecording(ctx context.Context, id, path string, size int64, duration int, at time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, UpdateSessionRecordingQuery, path, size, duration, utc(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to store session recording: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read recording update result: %w", err)
	}
	return n == 1, nil
}

// ExpireWaitingSessions ends waiting sessions created before cutoff.
func (d *Database) ExpireWaitingSessions(ctx context.Context, cutoff, at time.Time) (int64, error) {
	return retryableDBOperation(ctx, func() (int64, error) {
		res, err := d.db.ExecContext(ctx, ExpireWaitingSessionsQuery, utc(at), utc(cutoff))
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, "expire waiting sessions")
}
