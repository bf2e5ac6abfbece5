package service

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"duet/internal/database"
	"duet/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store with testify mocks.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateSession(ctx context.Context, s *models.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockStore) MatchSession(ctx context.Context, id, joinerID string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, joinerID, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) EndSession(ctx context.Context, id string, callDuration int, at time.Time) (bool, error) {
	args := m.Called(ctx, id, callDuration, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) CancelWaitingSession(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) OldestWaitingSession(ctx context.Context, excludingUserID string) (*models.Session, error) {
	args := m.Called(ctx, excludingUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockStore) FindLinkedSession(ctx context.Context, userID, otherID string) (*models.Session, error) {
	args := m.Called(ctx, userID, otherID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockStore) ListWaitingSessions(ctx context.Context) ([]*models.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Session), args.Error(1)
}

func (m *mockStore) SetSessionRecording(ctx context.Context, id, path string, size int64, duration int, at time.Time) (bool, error) {
	args := m.Called(ctx, id, path, size, duration, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ExpireWaitingSessions(ctx context.Context, cutoff, at time.Time) (int64, error) {
	args := m.Called(ctx, cutoff, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SaveSignal(ctx context.Context, s *models.Signal) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockStore) UnprocessedSignals(ctx context.Context, sessionID, recipientID string) iter.Seq2[*models.Signal, error] {
	args := m.Called(ctx, sessionID, recipientID)
	return args.Get(0).(iter.Seq2[*models.Signal, error])
}

func (m *mockStore) MarkSignalProcessed(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) DeleteSessionSignals(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeleteSignalsOfEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *mockStore) DeleteSessionMessages(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) CreatePendingItem(ctx context.Context, item *models.PendingItem) (bool, error) {
	args := m.Called(ctx, item)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetPendingItem(ctx context.Context, id string) (*models.PendingItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingItem), args.Error(1)
}

func (m *mockStore) GetPendingItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingItem), args.Error(1)
}

func (m *mockStore) ListPendingItemsForUser(ctx context.Context, userID string) ([]*models.PendingItem, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PendingItem), args.Error(1)
}

func (m *mockStore) ApplyPendingItemPatch(ctx context.Context, id string, patch models.PendingItemPatch, at time.Time) (bool, error) {
	args := m.Called(ctx, id, patch, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) PublishPendingItem(ctx context.Context, itemID string, post *models.Post) (bool, error) {
	args := m.Called(ctx, itemID, post)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) CreateItemEdit(ctx context.Context, e *models.ItemEdit) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockStore) GetItemEdit(ctx context.Context, id string) (*models.ItemEdit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ItemEdit), args.Error(1)
}

func (m *mockStore) ListItemEdits(ctx context.Context, itemID string) ([]*models.ItemEdit, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ItemEdit), args.Error(1)
}

func (m *mockStore) ApproveItemEdit(ctx context.Context, id string, slot int, at time.Time) error {
	args := m.Called(ctx, id, slot, at)
	return args.Error(0)
}

func (m *mockStore) ApplyItemEdit(ctx context.Context, edit *models.ItemEdit, postID string, at time.Time) (bool, error) {
	args := m.Called(ctx, edit, postID, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *mockStore) ListPostsTaggingUser(ctx context.Context, userID string) ([]*models.Post, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Post), args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *mockStore) GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

var _ Store = (*mockStore)(nil)
var _ Store = (*database.Database)(nil)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testSettings() *Settings {
	return NewSettings(&models.Config{})
}

// testClock advances by one second per call so stored timestamps stay ordered.
type testClock struct{ ticks atomic.Int64 }

func (c *testClock) Now() time.Time {
	return testTime.Add(time.Duration(c.ticks.Add(1)) * time.Second)
}

type testIDs struct{ n atomic.Int64 }

func (g *testIDs) Next(prefix string) func() string {
	return func() string { return fmt.Sprintf("%s-%d", prefix, g.n.Add(1)) }
}

// services bundles every service over one real sqlite store.
type services struct {
	db       *database.Database
	sessions *SessionService
	relay    *RelayService
	consent  *ConsentService
	settings *Settings
}

func setupServices(t *testing.T) *services {
	t.Helper()
	db, err := database.New(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "service.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{}
	ids := &testIDs{}
	settings := testSettings()
	logger := quietLogger()

	s := &services{
		db:       db,
		sessions: NewSessionService(db, db, db, db, settings, logger),
		relay:    NewRelayService(db, db, db, settings, logger),
		consent:  NewConsentService(db, db, db, db, logger),
		settings: settings,
	}
	s.sessions.now, s.sessions.newID = clock.Now, ids.Next("session")
	s.relay.now = clock.Now
	s.consent.now, s.consent.newID = clock.Now, ids.Next("id")
	return s
}

func seedUser(t *testing.T, db *database.Database, id, username string) {
	t.Helper()
	require.NoError(t, db.UpsertUser(context.Background(), &models.UserProfile{ID: id, Username: username}))
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func statusPtr(s models.ApprovalStatus) *models.ApprovalStatus { return &s }
