package service

import (
	"context"
	"time"

	"duet/internal/constants"
	"duet/internal/errors"
	"duet/internal/metrics"
	"duet/internal/models"
	"duet/internal/privacy"
	"duet/internal/validation"

	"github.com/sirupsen/logrus"
)

// SignalInput is one negotiation envelope to store.
type SignalInput struct {
	SessionID  string
	FromUserID string
	ToUserID   string
	Kind       string
	Payload    string
}

// RelayService stores and forwards negotiation signals and chat messages.
type RelayService struct {
	sessions SessionStore
	signals  SignalStore
	messages MessageStore
	settings *Settings
	logger   *logrus.Logger
	now      func() time.Time
}

// NewRelayService creates a new relay service instance
func NewRelayService(sessions SessionStore, signals SignalStore, messages MessageStore, settings *Settings, logger *logrus.Logger) *RelayService {
	return &RelayService{
		sessions: sessions,
		signals:  signals,
		messages: messages,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *RelayService) session(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	if session == nil {
		return nil, errors.NewNotFoundError("session", sessionID)
	}
	return session, nil
}

// SendSignal queues an envelope for its recipient. The session may still be waiting.
func (r *RelayService) SendSignal(ctx context.Context, in SignalInput) (*models.Signal, error) {
	if err := validation.ValidateIdentifier("sessionId", in.SessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("fromUserId", in.FromUserID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("toUserId", in.ToUserID); err != nil {
		return nil, err
	}
	if err := validation.ValidateSignalKind(in.Kind); err != nil {
		return nil, err
	}
	if err := validation.ValidateSignalPayload(in.Payload, r.settings.MaxSignalPayloadKB()); err != nil {
		return nil, err
	}

	if _, err := r.session(ctx, in.SessionID); err != nil {
		return nil, err
	}

	signal := &models.Signal{
		SessionID:  in.SessionID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		Kind:       in.Kind,
		Payload:    in.Payload,
		CreatedAt:  r.now(),
	}
	if err := r.signals.SaveSignal(ctx, signal); err != nil {
		return nil, errors.NewDatabaseError("save signal", err)
	}

	metrics.IncrementCounter(metrics.SignalsRelayed, map[string]string{"kind": in.Kind}, "Signals stored for delivery")
	entry := r.logger.WithFields(logrus.Fields{
		LogFieldSessionID:  sessionField(ctx, in.SessionID),
		LogFieldSignalID:   signal.ID,
		LogFieldSignalKind: in.Kind,
	})
	if IsVerboseLogging(ctx) {
		entry = entry.WithField("payload", in.Payload)
	} else {
		entry = entry.WithField("payload", privacy.MaskContent(in.Payload))
	}
	entry.Debug("Signal stored")
	return signal, nil
}

// FetchSignals returns the recipient's unacknowledged signals, oldest first.
// The same signals are returned until MarkSignalProcessed is called for them.
func (r *RelayService) FetchSignals(ctx context.Context, sessionID, recipientID string) ([]*models.Signal, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", recipientID); err != nil {
		return nil, err
	}
	if _, err := r.session(ctx, sessionID); err != nil {
		return nil, err
	}

	signals := []*models.Signal{}
	for signal, err := range r.signals.UnprocessedSignals(ctx, sessionID, recipientID) {
		if err != nil {
			return nil, errors.NewDatabaseError("fetch signals", err)
		}
		signals = append(signals, signal)
	}

	LogRelayPoll(ctx, r.logger, "signals", sessionID, len(signals))
	return signals, nil
}

// MarkSignalProcessed acknowledges a delivered signal. Repeated calls are harmless.
func (r *RelayService) MarkSignalProcessed(ctx context.Context, signalID int64) error {
	if signalID <= 0 {
		return errors.NewMissingFieldError("signalId")
	}
	if err := r.signals.MarkSignalProcessed(ctx, signalID); err != nil {
		return errors.NewDatabaseError("mark signal processed", err)
	}
	return nil
}

// PostMessage appends a chat line addressed to the sender's counterpart.
func (r *RelayService) PostMessage(ctx context.Context, sessionID, senderID, content string) (*models.Message, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", senderID); err != nil {
		return nil, err
	}
	if err := validation.ValidateMessageContent(content, r.settings.MaxMessageLength()); err != nil {
		return nil, err
	}

	session, err := r.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case models.SessionStatusWaiting:
		return nil, errors.NewPreconditionError("session", sessionID, "session has no second participant yet")
	case models.SessionStatusEnded:
		return nil, errors.NewPreconditionError("session", sessionID, "session has ended")
	}
	recipientID, ok := session.Counterpart(senderID)
	if !ok {
		return nil, errors.NewForbiddenError("session", sessionID, "sender is not a participant of this session")
	}

	msg := &models.Message{
		SessionID:  sessionID,
		FromUserID: senderID,
		ToUserID:   recipientID,
		Content:    content,
		CreatedAt:  r.now(),
	}
	if err := r.messages.SaveMessage(ctx, msg); err != nil {
		return nil, errors.NewDatabaseError("save message", err)
	}

	metrics.IncrementCounter(metrics.MessagesRelayed, nil, "Chat messages stored")
	return msg, nil
}

// ListMessages returns the latest limit messages of a session in chronological order.
// A non-positive limit uses the configured default.
func (r *RelayService) ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.settings.MessageFetchLimit()
	}
	limit = min(limit, constants.MaxMessageFetchLimit)

	if _, err := r.session(ctx, sessionID); err != nil {
		return nil, err
	}

	msgs, err := r.messages.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("list messages", err)
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}

	LogRelayPoll(ctx, r.logger, "messages", sessionID, len(msgs))
	return msgs, nil
}
