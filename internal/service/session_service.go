package service

import (
	"context"
	"time"

	"duet/internal/errors"
	"duet/internal/metrics"
	"duet/internal/models"
	"duet/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MatchResult answers a match poll.
type MatchResult struct {
	Matched       bool                 `json:"matched"`
	SessionID     string               `json:"sessionId,omitempty"`
	Status        models.SessionStatus `json:"status,omitempty"`
	CounterpartID string               `json:"counterpartId,omitempty"`
	Counterpart   *models.UserProfile  `json:"counterpart,omitempty"`
	Initiator     bool                 `json:"initiator"`
}

// TargetedSession is the outcome of asking for a call with a specific user.
type TargetedSession struct {
	Session    *models.Session
	IsExisting bool
}

// WaitingOptions filters the catch-board.
type WaitingOptions struct {
	// Dedupe keeps only the newest session per creator. Nil uses the configured default.
	Dedupe        *bool
	ExcludeUserID string
}

// SessionService owns the session lifecycle and matchmaking.
type SessionService struct {
	sessions SessionStore
	signals  SignalStore
	messages MessageStore
	users    UserDirectory
	settings *Settings
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string
}

// NewSessionService creates a new session service instance
func NewSessionService(sessions SessionStore, signals SignalStore, messages MessageStore, users UserDirectory, settings *Settings, logger *logrus.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		signals:  signals,
		messages: messages,
		users:    users,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create opens a waiting session owned by requesterID.
func (s *SessionService) Create(ctx context.Context, requesterID string) (*models.Session, error) {
	if err := validation.ValidateIdentifier("userId", requesterID); err != nil {
		return nil, err
	}
	return s.create(ctx, requesterID, nil)
}

func (s *SessionService) create(ctx context.Context, requesterID string, targetUserID *string) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		ID:           s.newID(),
		ParticipantA: requesterID,
		TargetUserID: targetUserID,
		Status:       models.SessionStatusWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, errors.NewDatabaseError("create session", err)
	}

	metrics.IncrementCounter(metrics.SessionsCreated, map[string]string{"targeted": boolLabel(targetUserID != nil)}, "Sessions created")
	LogSessionEvent(ctx, s.logger, "Session created", session.ID, requesterID)
	return session, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	return s.load(ctx, sessionID)
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	if session == nil {
		return nil, errors.NewNotFoundError("session", sessionID)
	}
	return session, nil
}

// MatchOrPoll answers "has this session been matched" for requesterID.
//
// A participant of an active session gets the counterpart and initiator flag. A user that does
// not own a waiting session joins it. The owner of an open waiting session is paired with the
// oldest other waiting session when that one is older than their own: their session is cancelled
// first and they join the other one as participant B, so the absorbing creator stays the initiator.
func (s *SessionService) MatchOrPoll(ctx context.Context, sessionID, requesterID string) (*MatchResult, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", requesterID); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.SessionStatusEnded:
		return &MatchResult{SessionID: session.ID, Status: session.Status}, nil
	case models.SessionStatusActive:
		if !session.HasParticipant(requesterID) {
			return nil, errors.NewRaceLostError("session", sessionID)
		}
		return s.matched(ctx, session, requesterID), nil
	}

	if session.ParticipantA != requesterID {
		joined, err := s.join(ctx, session, requesterID)
		if err != nil {
			return nil, err
		}
		return s.matched(ctx, joined, requesterID), nil
	}

	if session.TargetUserID != nil {
		return &MatchResult{SessionID: session.ID, Status: session.Status}, nil
	}
	return s.absorb(ctx, session, requesterID)
}

func (s *SessionService) absorb(ctx context.Context, own *models.Session, requesterID string) (*MatchResult, error) {
	candidate, err := s.sessions.OldestWaitingSession(ctx, requesterID)
	if err != nil {
		return nil, errors.NewDatabaseError("find waiting session", err)
	}
	// Only the newer of two waiting sessions gives way, so two lone pollers cannot cancel each other.
	if candidate == nil || !candidate.OlderThan(own) {
		return &MatchResult{SessionID: own.ID, Status: own.Status}, nil
	}

	cancelled, err := s.sessions.CancelWaitingSession(ctx, own.ID, s.now())
	if err != nil {
		return nil, errors.NewDatabaseError("cancel session", err)
	}
	if !cancelled {
		// Someone joined or ended our session in the meantime.
		current, err := s.load(ctx, own.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.SessionStatusActive {
			return s.matched(ctx, current, requesterID), nil
		}
		return &MatchResult{SessionID: current.ID, Status: current.Status}, nil
	}
	LogSessionEvent(ctx, s.logger, "Session absorbed into an older waiting session", own.ID, requesterID)

	joined, err := s.join(ctx, candidate, requesterID)
	if err != nil {
		return nil, err
	}
	return s.matched(ctx, joined, requesterID), nil
}

// Catch joins a waiting session picked from the catch-board.
func (s *SessionService) Catch(ctx context.Context, sessionID, catcherID string) (*models.Session, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", catcherID); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.SessionStatusActive:
		metrics.IncrementCounter(metrics.MatchRaceLost, nil, "Match attempts lost to a concurrent caller")
		return nil, errors.NewRaceLostError("session", sessionID)
	case models.SessionStatusEnded:
		return nil, errors.NewPreconditionError("session", sessionID, "session has already ended")
	}

	return s.join(ctx, session, catcherID)
}

// join writes joinerID into slot B of a waiting session and returns the resulting active session.
func (s *SessionService) join(ctx context.Context, session *models.Session, joinerID string) (*models.Session, error) {
	if session.ParticipantA == joinerID {
		return nil, errors.New(errors.ErrCodeInvalidInput, "cannot join your own session").
			WithContext("session_id", session.ID).
			WithUserMessage("You cannot join your own session")
	}
	if session.IsReservedFor(joinerID) {
		return nil, errors.NewForbiddenError("session", session.ID, "session is reserved for another user")
	}

	now := s.now()
	won, err := s.sessions.MatchSession(ctx, session.ID, joinerID, now)
	if err != nil {
		return nil, errors.NewDatabaseError("match session", err)
	}
	if !won {
		metrics.IncrementCounter(metrics.MatchRaceLost, nil, "Match attempts lost to a concurrent caller")
		return nil, errors.NewRaceLostError("session", session.ID)
	}

	joined := *session
	joined.ParticipantB = &joinerID
	joined.Status = models.SessionStatusActive
	joined.UpdatedAt = now

	metrics.IncrementCounter(metrics.SessionsMatched, nil, "Sessions that found a partner")
	s.logger.WithFields(logrus.Fields{
		LogFieldSessionID: sessionField(ctx, session.ID),
		LogFieldUserID:    userField(ctx, joinerID),
		LogFieldDuration:  now.Sub(session.CreatedAt).Milliseconds(),
	}).Info("Session matched")
	return &joined, nil
}

func (s *SessionService) matched(ctx context.Context, session *models.Session, requesterID string) *MatchResult {
	counterpartID, _ := session.Counterpart(requesterID)
	return &MatchResult{
		Matched:       true,
		SessionID:     session.ID,
		Status:        session.Status,
		CounterpartID: counterpartID,
		Counterpart:   s.profile(ctx, counterpartID),
		Initiator:     session.IsInitiator(requesterID),
	}
}

// profile looks up a user for display. Failures only cost the enrichment.
func (s *SessionService) profile(ctx context.Context, userID string) *models.UserProfile {
	if s.users == nil || userID == "" {
		return nil
	}
	p, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField(LogFieldUserID, userField(ctx, userID)).Warn("Failed to load user profile")
		return nil
	}
	return p
}

// CreateTargeted returns the session linking requesterID and the user named targetUsername,
// creating one reserved for the target when none is waiting or active.
func (s *SessionService) CreateTargeted(ctx context.Context, requesterID, targetUsername string) (*TargetedSession, error) {
	if err := validation.ValidateIdentifier("userId", requesterID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUsername(targetUsername); err != nil {
		return nil, err
	}

	target, err := s.users.GetUserByUsername(ctx, targetUsername)
	if err != nil {
		return nil, errors.NewDatabaseError("get user", err)
	}
	if target == nil {
		return nil, errors.NewNotFoundError("user", targetUsername)
	}
	if target.ID == requesterID {
		return nil, errors.New(errors.ErrCodeInvalidInput, "cannot call yourself").
			WithUserMessage("You cannot call yourself")
	}

	existing, err := s.sessions.FindLinkedSession(ctx, requesterID, target.ID)
	if err != nil {
		return nil, errors.NewDatabaseError("find linked session", err)
	}
	if existing != nil {
		return &TargetedSession{Session: existing, IsExisting: true}, nil
	}

	targetID := target.ID
	session, err := s.create(ctx, requesterID, &targetID)
	if err != nil {
		return nil, err
	}
	return &TargetedSession{Session: session}, nil
}

// ListWaiting returns the catch-board, newest first.
func (s *SessionService) ListWaiting(ctx context.Context, opts WaitingOptions) ([]*models.WaitingEntry, error) {
	sessions, err := s.sessions.ListWaitingSessions(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list waiting sessions", err)
	}

	dedupe := s.settings.DedupeCatchBoard()
	if opts.Dedupe != nil {
		dedupe = *opts.Dedupe
	}

	profiles := make(map[string]*models.UserProfile)
	seen := make(map[string]bool)
	entries := make([]*models.WaitingEntry, 0, len(sessions))
	for _, session := range sessions {
		creator := session.ParticipantA
		if opts.ExcludeUserID != "" && creator == opts.ExcludeUserID {
			continue
		}
		if dedupe && seen[creator] {
			continue
		}
		seen[creator] = true

		profile, ok := profiles[creator]
		if !ok {
			profile = s.profile(ctx, creator)
			profiles[creator] = profile
		}
		entries = append(entries, &models.WaitingEntry{
			SessionID: session.ID,
			CreatorID: creator,
			User:      profile,
			CreatedAt: session.CreatedAt,
		})
	}
	return entries, nil
}

// End finishes a session. Ending an ended session is a no-op. Relay rows are purged best-effort.
func (s *SessionService) End(ctx context.Context, sessionID string, callDuration int) error {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return err
	}
	if err := validation.ValidateDuration("duration", callDuration); err != nil {
		return err
	}

	if _, err := s.load(ctx, sessionID); err != nil {
		return err
	}

	ended, err := s.sessions.EndSession(ctx, sessionID, callDuration, s.now())
	if err != nil {
		return errors.NewDatabaseError("end session", err)
	}
	if ended {
		metrics.IncrementCounter(metrics.SessionsEnded, nil, "Sessions ended")
		s.logger.WithFields(logrus.Fields{
			LogFieldSessionID: sessionField(ctx, sessionID),
			LogFieldDuration:  int64(callDuration) * 1000,
		}).Info("Session ended")
	}

	log := s.logger.WithField(LogFieldSessionID, sessionField(ctx, sessionID))
	if n, err := s.signals.DeleteSessionSignals(ctx, sessionID); err != nil {
		log.WithError(err).Warn("Failed to purge session signals")
	} else if n > 0 {
		log.WithField(LogFieldCount, n).Debug("Purged session signals")
	}

	if s.settings.PurgeMessagesOnEnd() {
		if n, err := s.messages.DeleteSessionMessages(ctx, sessionID); err != nil {
			log.WithError(err).Warn("Failed to purge session messages")
		} else if n > 0 {
			log.WithField(LogFieldCount, n).Debug("Purged session messages")
		}
	}
	return nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
