package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duet/internal/models"
	"duet/internal/orchestrator"
	"duet/internal/privacy"
	"duet/internal/service"

	"github.com/sirupsen/logrus"
)

// messenger posts chat lines. *client.Client implements it.
type messenger interface {
	SendMessage(ctx context.Context, sessionID, userID, content string) (*models.Message, error)
}

// bot answers every prompt of the orchestrator without a human: it greets, holds the
// call for a fixed time, fills in metadata and approves.
type bot struct {
	cfg    botConfig
	api    messenger
	logger *logrus.Logger

	mu      sync.Mutex
	greeted string
	calls   int
}

func newBot(cfg botConfig, api messenger, logger *logrus.Logger) *bot {
	return &bot{cfg: cfg, api: api, logger: logger}
}

func (b *bot) userField(id string) string {
	if b.cfg.Verbose {
		return id
	}
	return privacy.MaskUserID(id)
}

func (b *bot) OnMatched(call orchestrator.Call) {
	b.logger.WithFields(logrus.Fields{
		service.LogFieldSessionID: privacy.MaskSessionID(call.SessionID),
		service.LogFieldUserID:    b.userField(call.CounterpartID),
		service.LogFieldInitiator: call.Initiator,
	}).Info("Matched")
}

func (b *bot) OnMessage(msg models.Message) {
	content := msg.Content
	if !b.cfg.Verbose {
		content = privacy.MaskContent(content)
	}
	b.logger.WithFields(logrus.Fields{
		service.LogFieldUserID: b.userField(msg.FromUserID),
		"content":              content,
	}).Debug("Chat message")
}

// Next greets once per call and hangs up after the configured call length.
func (b *bot) Next(ctx context.Context, call orchestrator.Call) orchestrator.Action {
	if call.StartedAt.IsZero() {
		return orchestrator.ActionContinue
	}

	b.mu.Lock()
	greet := b.greeted != call.SessionID
	b.greeted = call.SessionID
	b.mu.Unlock()
	if greet {
		if _, err := b.api.SendMessage(ctx, call.SessionID, b.cfg.UserID, "hello from "+b.cfg.Username); err != nil {
			b.logger.WithError(err).Warn("Failed to send greeting")
		}
	}

	if time.Since(call.StartedAt) >= b.cfg.CallLength {
		return orchestrator.ActionHangup
	}
	return orchestrator.ActionContinue
}

func (b *bot) Metadata(ctx context.Context, item *models.PendingItem) (orchestrator.Metadata, bool, error) {
	return orchestrator.Metadata{
		Title:       fmt.Sprintf("Call recorded by %s", b.cfg.Username),
		Description: "Recorded by duet-bot",
		Price:       b.cfg.Price,
		Tags:        []string{"bot"},
	}, true, nil
}

func (b *bot) Review(ctx context.Context, item *models.PendingItem) (bool, error) {
	return true, nil
}

func (b *bot) Settled(item *models.PendingItem, published bool) {
	fields := logrus.Fields{"published": published}
	if item != nil {
		fields[service.LogFieldItemID] = item.ID
		if item.PublishedPostID != nil {
			fields[service.LogFieldPostID] = *item.PublishedPostID
		}
	}
	b.logger.WithFields(fields).Info("Consent settled")
}

// wantAnother counts finished calls against the configured total. Zero means no limit.
func (b *bot) wantAnother(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.cfg.Calls == 0 || b.calls < b.cfg.Calls
}
