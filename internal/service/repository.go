package service

import (
	"context"
	"iter"
	"time"

	"duet/internal/models"
)

// SessionStore persists sessions. Every transition is a conditional update that reports whether it won.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	MatchSession(ctx context.Context, id, joinerID string, at time.Time) (bool, error)
	EndSession(ctx context.Context, id string, callDuration int, at time.Time) (bool, error)
	CancelWaitingSession(ctx context.Context, id string, at time.Time) (bool, error)
	OldestWaitingSession(ctx context.Context, excludingUserID string) (*models.Session, error)
	FindLinkedSession(ctx context.Context, userID, otherID string) (*models.Session, error)
	ListWaitingSessions(ctx context.Context) ([]*models.Session, error)
	SetSessionRecording(ctx context.Context, id, path string, size int64, duration int, at time.Time) (bool, error)
	ExpireWaitingSessions(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// SignalStore persists negotiation envelopes until their recipient acknowledges them.
type SignalStore interface {
	SaveSignal(ctx context.Context, s *models.Signal) error
	UnprocessedSignals(ctx context.Context, sessionID, recipientID string) iter.Seq2[*models.Signal, error]
	MarkSignalProcessed(ctx context.Context, id int64) error
	DeleteSessionSignals(ctx context.Context, sessionID string) (int64, error)
	DeleteSignalsOfEndedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// MessageStore persists chat lines.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *models.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) (int64, error)
}

// PendingItemStore persists consent items and the negotiated edits of published ones.
type PendingItemStore interface {
	CreatePendingItem(ctx context.Context, item *models.PendingItem) (bool, error)
	GetPendingItem(ctx context.Context, id string) (*models.PendingItem, error)
	GetPendingItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error)
	ListPendingItemsForUser(ctx context.Context, userID string) ([]*models.PendingItem, error)
	ApplyPendingItemPatch(ctx context.Context, id string, patch models.PendingItemPatch, at time.Time) (bool, error)
	PublishPendingItem(ctx context.Context, itemID string, post *models.Post) (bool, error)

	CreateItemEdit(ctx context.Context, e *models.ItemEdit) error
	GetItemEdit(ctx context.Context, id string) (*models.ItemEdit, error)
	ListItemEdits(ctx context.Context, itemID string) ([]*models.ItemEdit, error)
	ApproveItemEdit(ctx context.Context, id string, slot int, at time.Time) error
	ApplyItemEdit(ctx context.Context, edit *models.ItemEdit, postID string, at time.Time) (bool, error)
}

// PostStore reads published posts.
type PostStore interface {
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPostsTaggingUser(ctx context.Context, userID string) ([]*models.Post, error)
}

// UserDirectory resolves account profiles owned outside this service.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error)
}

// Store is everything the services need from storage.
type Store interface {
	SessionStore
	SignalStore
	MessageStore
	PendingItemStore
	PostStore
	UserDirectory
}
