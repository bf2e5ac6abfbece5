package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"duet/internal/database"
	"duet/internal/errors"
	"duet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSessionService_CreateRequiresUser(t *testing.T) {
	s := setupServices(t)

	_, err := s.sessions.Create(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	session, err := s.sessions.Create(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusWaiting, session.Status)
	assert.Equal(t, "u1", session.ParticipantA)
	assert.Nil(t, session.ParticipantB)
}

func TestSessionService_GetNotFound(t *testing.T) {
	s := setupServices(t)

	_, err := s.sessions.Get(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestSessionService_MatchOrPollJoinThenCatchLoses(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	session, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)

	res, err := s.sessions.MatchOrPoll(ctx, session.ID, "u2")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "u1", res.CounterpartID)
	assert.False(t, res.Initiator)

	got, err := s.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, got.Status)
	require.NotNil(t, got.ParticipantB)
	assert.Equal(t, "u2", *got.ParticipantB)

	_, err = s.sessions.Catch(ctx, session.ID, "u3")
	assert.True(t, errors.HasCode(err, errors.ErrCodeRaceLost))

	creator, err := s.sessions.MatchOrPoll(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.True(t, creator.Matched)
	assert.Equal(t, "u2", creator.CounterpartID)
	assert.True(t, creator.Initiator)
}

func TestSessionService_MatchOrPollWaitsWhenAlone(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	session, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)

	res, err := s.sessions.MatchOrPoll(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, models.SessionStatusWaiting, res.Status)
}

func TestSessionService_MatchOrPollAbsorbsIntoOlderSession(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	seedUser(t, s.db, "u1", "alice")

	older, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)
	mine, err := s.sessions.Create(ctx, "u2")
	require.NoError(t, err)

	res, err := s.sessions.MatchOrPoll(ctx, mine.ID, "u2")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, older.ID, res.SessionID)
	assert.Equal(t, "u1", res.CounterpartID)
	require.NotNil(t, res.Counterpart)
	assert.Equal(t, "alice", res.Counterpart.Username)
	assert.False(t, res.Initiator)

	own, err := s.sessions.Get(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, own.Status)
	assert.Nil(t, own.ParticipantB)

	creator, err := s.sessions.MatchOrPoll(ctx, older.ID, "u1")
	require.NoError(t, err)
	assert.True(t, creator.Matched)
	assert.True(t, creator.Initiator)

	ended, err := s.sessions.MatchOrPoll(ctx, mine.ID, "u2")
	require.NoError(t, err)
	assert.False(t, ended.Matched)
	assert.Equal(t, models.SessionStatusEnded, ended.Status)
}

func TestSessionService_AbsorbReportsMatchWhenJoinedMeanwhile(t *testing.T) {
	store := &mockStore{}
	svc := NewSessionService(store, store, store, store, testSettings(), quietLogger())
	ctx := context.Background()

	own := &models.Session{ID: "s-own", ParticipantA: "u2", Status: models.SessionStatusWaiting, CreatedAt: testTime.Add(time.Minute)}
	other := &models.Session{ID: "s-other", ParticipantA: "u1", Status: models.SessionStatusWaiting, CreatedAt: testTime}
	joined := &models.Session{ID: "s-own", ParticipantA: "u2", ParticipantB: strPtr("u3"), Status: models.SessionStatusActive, CreatedAt: own.CreatedAt}

	store.On("GetSession", ctx, "s-own").Return(own, nil).Once()
	store.On("OldestWaitingSession", ctx, "u2").Return(other, nil)
	store.On("CancelWaitingSession", ctx, "s-own", mock.Anything).Return(false, nil)
	store.On("GetSession", ctx, "s-own").Return(joined, nil).Once()
	store.On("GetUser", ctx, "u3").Return(nil, nil)

	res, err := svc.MatchOrPoll(ctx, "s-own", "u2")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "u3", res.CounterpartID)
	assert.True(t, res.Initiator)
	store.AssertNotCalled(t, "MatchSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// gatedSessions holds every caller of OldestWaitingSession until two have read the pool.
type gatedSessions struct {
	*database.Database
	arrived atomic.Int32
	release chan struct{}
}

func (g *gatedSessions) OldestWaitingSession(ctx context.Context, excludingUserID string) (*models.Session, error) {
	s, err := g.Database.OldestWaitingSession(ctx, excludingUserID)
	if g.arrived.Add(1) == 2 {
		close(g.release)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s, err
}

func TestSessionService_TwoLonePollersArePaired(t *testing.T) {
	s := setupServices(t)
	gated := &gatedSessions{Database: s.db, release: make(chan struct{})}
	svc := NewSessionService(gated, s.db, s.db, s.db, s.settings, quietLogger())
	svc.now, svc.newID = s.sessions.now, s.sessions.newID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	older, err := svc.Create(ctx, "ua")
	require.NoError(t, err)
	newer, err := svc.Create(ctx, "ub")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*MatchResult, 2)
	errs := make([]error, 2)
	for i, poll := range []struct{ session, user string }{{older.ID, "ua"}, {newer.ID, "ub"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.MatchOrPoll(ctx, poll.session, poll.user)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.False(t, results[0].Matched, "the older session keeps waiting")
	require.True(t, results[1].Matched, "the newer session gives way")
	assert.Equal(t, older.ID, results[1].SessionID)
	assert.Equal(t, "ua", results[1].CounterpartID)

	got, err := svc.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, got.Status)

	abandoned, err := svc.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, abandoned.Status)

	creator, err := svc.MatchOrPoll(ctx, older.ID, "ua")
	require.NoError(t, err)
	assert.True(t, creator.Matched)
	assert.True(t, creator.Initiator)
}

func TestSessionService_ConcurrentCatchHasOneWinner(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	session, err := s.sessions.Create(ctx, "creator")
	require.NoError(t, err)

	const catchers = 8
	var wg sync.WaitGroup
	results := make(chan error, catchers)
	for i := range catchers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.sessions.Catch(ctx, session.ID, "catcher-"+string(rune('a'+i)))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.HasCode(err, errors.ErrCodeRaceLost):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, catchers-1, lost)
}

func TestSessionService_CatchRules(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	session, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)

	_, err = s.sessions.Catch(ctx, session.ID, "u1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, err = s.sessions.Catch(ctx, "missing", "u2")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	caught, err := s.sessions.Catch(ctx, session.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, caught.Status)
	assert.Equal(t, "u1", caught.Initiator())

	require.NoError(t, s.sessions.End(ctx, session.ID, 0))
	_, err = s.sessions.Catch(ctx, session.ID, "u3")
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
}

func TestSessionService_CreateTargeted(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	seedUser(t, s.db, "u1", "alice")
	seedUser(t, s.db, "u2", "bob")

	_, err := s.sessions.CreateTargeted(ctx, "u1", "nobody")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = s.sessions.CreateTargeted(ctx, "u1", "alice")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	first, err := s.sessions.CreateTargeted(ctx, "u1", "bob")
	require.NoError(t, err)
	assert.False(t, first.IsExisting)
	require.NotNil(t, first.Session.TargetUserID)
	assert.Equal(t, "u2", *first.Session.TargetUserID)

	again, err := s.sessions.CreateTargeted(ctx, "u1", "bob")
	require.NoError(t, err)
	assert.True(t, again.IsExisting)
	assert.Equal(t, first.Session.ID, again.Session.ID)

	// The target finds the same session from their side.
	reverse, err := s.sessions.CreateTargeted(ctx, "u2", "alice")
	require.NoError(t, err)
	assert.True(t, reverse.IsExisting)
	assert.Equal(t, first.Session.ID, reverse.Session.ID)

	_, err = s.sessions.Catch(ctx, first.Session.ID, "u3")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	owner, err := s.sessions.MatchOrPoll(ctx, first.Session.ID, "u1")
	require.NoError(t, err)
	assert.False(t, owner.Matched)

	target, err := s.sessions.MatchOrPoll(ctx, first.Session.ID, "u2")
	require.NoError(t, err)
	assert.True(t, target.Matched)
	assert.False(t, target.Initiator)
}

func TestSessionService_ListWaiting(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	seedUser(t, s.db, "u1", "alice")

	first, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = s.sessions.Create(ctx, "u2")
	require.NoError(t, err)
	latest, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)

	entries, err := s.sessions.ListWaiting(ctx, WaitingOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, latest.ID, entries[0].SessionID)
	require.NotNil(t, entries[0].User)
	assert.Equal(t, "alice", entries[0].User.Username)
	assert.Nil(t, entries[1].User)

	noDedupe := false
	all, err := s.sessions.ListWaiting(ctx, WaitingOptions{Dedupe: &noDedupe})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[2].SessionID)

	others, err := s.sessions.ListWaiting(ctx, WaitingOptions{ExcludeUserID: "u1"})
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "u2", others[0].CreatorID)
}

func TestSessionService_EndIsIdempotentAndPurges(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	session, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = s.sessions.Catch(ctx, session.ID, "u2")
	require.NoError(t, err)

	_, err = s.relay.SendSignal(ctx, SignalInput{SessionID: session.ID, FromUserID: "u1", ToUserID: "u2", Kind: "offer", Payload: "{}"})
	require.NoError(t, err)

	require.NoError(t, s.sessions.End(ctx, session.ID, 42))
	require.NoError(t, s.sessions.End(ctx, session.ID, 0))

	got, err := s.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, got.Status)
	assert.Equal(t, 42, got.CallDuration)

	signals, err := s.relay.FetchSignals(ctx, session.ID, "u2")
	require.NoError(t, err)
	assert.Empty(t, signals)

	err = s.sessions.End(ctx, "missing", 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestSessionService_EndToleratesPurgeFailure(t *testing.T) {
	store := &mockStore{}
	cfg := &models.Config{Relay: models.RelayConfig{PurgeMessagesOnEnd: true}}
	svc := NewSessionService(store, store, store, store, NewSettings(cfg), quietLogger())
	ctx := context.Background()

	session := &models.Session{ID: "s1", ParticipantA: "u1", ParticipantB: strPtr("u2"), Status: models.SessionStatusActive}
	store.On("GetSession", ctx, "s1").Return(session, nil)
	store.On("EndSession", ctx, "s1", 10, mock.Anything).Return(true, nil)
	store.On("DeleteSessionSignals", ctx, "s1").Return(int64(0), assert.AnError)
	store.On("DeleteSessionMessages", ctx, "s1").Return(int64(3), nil)

	require.NoError(t, svc.End(ctx, "s1", 10))
	store.AssertExpectations(t)
}
