package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"duet/internal/database"
	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/ratelimit"
	"duet/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testServer struct {
	*Server
	db *database.Database
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	db, err := database.New(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "server.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &models.Config{
		Recordings: models.RecordingsConfig{Dir: filepath.Join(t.TempDir(), "recordings"), MaxSizeMB: 1},
	}
	settings := service.NewSettings(cfg)
	svc := Services{
		Sessions:   service.NewSessionService(db, db, db, db, settings, logger),
		Relay:      service.NewRelayService(db, db, db, settings, logger),
		Consent:    service.NewConsentService(db, db, db, db, logger),
		Recordings: service.NewRecordingService(db, cfg.Recordings, logger),
		Store:      db,
	}

	server, err := New(cfg, svc, ratelimit.NewRateLimiter(limit, time.Minute), logger, false)
	require.NoError(t, err)

	for id, username := range map[string]string{"user-a": "alice", "user-b": "bob", "user-c": "carol"} {
		require.NoError(t, db.UpsertUser(context.Background(), &models.UserProfile{ID: id, Username: username}))
	}
	return &testServer{Server: server, db: db}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	return decode[errors.HTTPErrorResponse](t, w).Error.Code
}

// activeSession has user-a create a session and user-b catch it.
func (ts *testServer) activeSession(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/video-calls/sessions", map[string]string{"userId": "user-a"})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := decode[sessionResponse](t, w).SessionID

	w = ts.do(t, http.MethodPost, "/api/video-calls/catch", map[string]string{"sessionId": sessionID, "userId": "user-b"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return sessionID
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, 100)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.NoError(t, ts.db.Close())
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_CatchFlow(t *testing.T) {
	ts := newTestServer(t, 100)

	w := ts.do(t, http.MethodPost, "/api/video-calls/sessions", map[string]string{"userId": "user-a"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[sessionResponse](t, w)
	assert.Equal(t, models.SessionStatusWaiting, created.Status)

	w = ts.do(t, http.MethodPost, "/api/video-calls/match", map[string]string{"sessionId": created.SessionID, "userId": "user-a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[service.MatchResult](t, w).Matched)

	w = ts.do(t, http.MethodGet, "/api/video-calls/waiting?excludeUserId=user-b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[[]models.WaitingEntry](t, w)
	require.Len(t, board, 1)
	assert.Equal(t, "alice", board[0].User.Username)

	w = ts.do(t, http.MethodPost, "/api/video-calls/catch", map[string]string{"sessionId": created.SessionID, "userId": "user-b"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionStatusActive, decode[sessionResponse](t, w).Status)

	w = ts.do(t, http.MethodPost, "/api/video-calls/catch", map[string]string{"sessionId": created.SessionID, "userId": "user-c"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.ErrCodeRaceLost, errorCode(t, w))

	w = ts.do(t, http.MethodPost, "/api/video-calls/match", map[string]string{"sessionId": created.SessionID, "userId": "user-a"})
	result := decode[service.MatchResult](t, w)
	assert.True(t, result.Matched)
	assert.True(t, result.Initiator)
	assert.Equal(t, "user-b", result.CounterpartID)
	require.NotNil(t, result.Counterpart)
	assert.Equal(t, "bob", result.Counterpart.Username)

	w = ts.do(t, http.MethodPost, "/api/video-calls/match", map[string]string{"sessionId": created.SessionID, "userId": "user-b"})
	assert.False(t, decode[service.MatchResult](t, w).Initiator)

	w = ts.do(t, http.MethodGet, "/api/video-calls/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	session := decode[models.Session](t, w)
	require.NotNil(t, session.ParticipantB)
	assert.Equal(t, "user-b", *session.ParticipantB)

	w = ts.do(t, http.MethodPost, "/api/video-calls/end", map[string]interface{}{"sessionId": created.SessionID, "duration": 42})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[successResponse](t, w).Success)

	w = ts.do(t, http.MethodPost, "/api/video-calls/catch", map[string]string{"sessionId": created.SessionID, "userId": "user-c"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestServer_TargetedSession(t *testing.T) {
	ts := newTestServer(t, 100)

	w := ts.do(t, http.MethodPost, "/api/video-calls/to/bob", map[string]string{"userId": "user-a"})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[sessionResponse](t, w)
	require.NotNil(t, first.IsExisting)
	assert.False(t, *first.IsExisting)

	w = ts.do(t, http.MethodPost, "/api/video-calls/to/alice", map[string]string{"userId": "user-b"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[sessionResponse](t, w)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, *second.IsExisting)

	w = ts.do(t, http.MethodPost, "/api/video-calls/catch", map[string]string{"sessionId": first.SessionID, "userId": "user-c"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/video-calls/to/nobody", map[string]string{"userId": "user-a"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_SignalRelay(t *testing.T) {
	ts := newTestServer(t, 100)
	sessionID := ts.activeSession(t)

	w := ts.do(t, http.MethodPost, "/api/video-calls/signal", map[string]string{
		"sessionId":  sessionID,
		"fromUserId": "user-a",
		"toUserId":   "user-b",
		"signalType": "offer",
		"signalData": `{"sdp":"v=0"}`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[signalCreatedResponse](t, w)
	assert.True(t, created.Success)

	fetch := func() []*models.Signal {
		w := ts.do(t, http.MethodGet, "/api/video-calls/signal?sessionId="+sessionID+"&userId=user-b", nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode[signalsResponse](t, w).Signals
	}

	signals := fetch()
	require.Len(t, signals, 1)
	assert.Equal(t, "offer", signals[0].Kind)
	assert.Equal(t, `{"sdp":"v=0"}`, signals[0].Payload)
	assert.Len(t, fetch(), 1)

	w = ts.do(t, http.MethodPost, "/api/video-calls/signal/mark-processed", map[string]int64{"signalId": created.SignalID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, fetch())

	w = ts.do(t, http.MethodGet, "/api/video-calls/signal?sessionId="+sessionID+"&userId=user-a", nil)
	assert.Equal(t, `{"signals":[]}`, strings.TrimSpace(w.Body.String()))
}

func TestServer_Messages(t *testing.T) {
	ts := newTestServer(t, 100)
	sessionID := ts.activeSession(t)

	for _, content := range []string{"hi", "hello", "bye"} {
		w := ts.do(t, http.MethodPost, "/api/video-calls/messages", map[string]string{
			"sessionId": sessionID, "userId": "user-a", "content": content,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "user-b", decode[models.Message](t, w).ToUserID)
	}

	w := ts.do(t, http.MethodGet, "/api/video-calls/messages/"+sessionID+"?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.Message](t, w)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "bye", msgs[1].Content)

	w = ts.do(t, http.MethodGet, "/api/video-calls/messages/"+sessionID+"?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/video-calls/messages", map[string]string{
		"sessionId": sessionID, "userId": "user-c", "content": "intrude",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func uploadRecording(t *testing.T, ts *testServer, sessionID string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("sessionId", sessionID))
	require.NoError(t, mw.WriteField("duration", "12.4"))
	part, err := mw.CreateFormFile("file", "call.webm")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/video-calls/upload-recording", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestServer_ConsentAndPublish(t *testing.T) {
	ts := newTestServer(t, 100)
	sessionID := ts.activeSession(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/video-calls/end", map[string]string{"sessionId": sessionID}).Code)

	w := uploadRecording(t, ts, sessionID, []byte("webm-bytes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	stored := decode[service.StoredRecording](t, w)
	assert.Equal(t, 12, stored.Duration)
	assert.Equal(t, int64(10), stored.FileSize)
	assert.True(t, strings.HasPrefix(stored.RecordingPath, "/recordings/recording-"))

	w = ts.do(t, http.MethodGet, stored.RecordingPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "webm-bytes", w.Body.String())
	assert.Equal(t, "video/webm", w.Header().Get("Content-Type"))

	w = ts.do(t, http.MethodPost, "/api/video-calls/pending-items", map[string]string{
		"sessionId": sessionID, "user1Id": "user-a", "user2Id": "user-b", "recordingPath": stored.RecordingPath,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode[models.PendingItem](t, w)

	w = ts.do(t, http.MethodPost, "/api/video-calls/pending-items", map[string]string{
		"sessionId": sessionID, "user1Id": "user-b", "user2Id": "user-a", "recordingPath": stored.RecordingPath,
	})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = ts.do(t, http.MethodGet, "/api/video-calls/pending-items/session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, item.ID, decode[models.PendingItem](t, w).ID)

	w = ts.do(t, http.MethodPatch, "/api/video-calls/pending-items/"+item.ID, map[string]interface{}{
		"userId": "user-b", "title": "mine now",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/video-calls/pending-items/"+item.ID, map[string]interface{}{
		"userId": "user-a", "title": "Evening chat", "price": 9.99, "categoryTags": []string{"talk"}, "user1_status": "approved",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[service.UpdateResult](t, w).Published)

	w = ts.do(t, http.MethodPatch, "/api/video-calls/pending-items/"+item.ID, map[string]interface{}{
		"userId": "user-b", "user2_status": "approved",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[service.UpdateResult](t, w)
	require.True(t, result.Published)
	require.NotNil(t, result.Item.PublishedPostID)

	w = ts.do(t, http.MethodGet, "/api/video-calls/posts/"+*result.Item.PublishedPostID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	post := decode[models.Post](t, w)
	assert.Equal(t, "Evening chat", post.Caption)
	assert.Equal(t, stored.RecordingPath, post.MediaURL)
	assert.InDelta(t, 9.99, post.RevenueSplitUser1+post.RevenueSplitUser2, 1e-9)

	w = ts.do(t, http.MethodGet, "/api/video-calls/posts/tagged/user-b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tagged := decode[[]models.TaggedPost](t, w)
	require.Len(t, tagged, 1)
	require.NotNil(t, tagged[0].Author)
	assert.Equal(t, "alice", tagged[0].Author.Username)

	w = ts.do(t, http.MethodPatch, "/api/video-calls/pending-items/"+item.ID, map[string]interface{}{
		"userId": "user-a", "title": "too late",
	})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = ts.do(t, http.MethodPost, "/api/video-calls/pending-items/"+item.ID+"/edits", map[string]string{
		"userId": "user-b", "field": "price", "newValue": "20",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	edit := decode[models.ItemEdit](t, w)

	w = ts.do(t, http.MethodPost, "/api/video-calls/edits/"+edit.ID+"/approve", map[string]string{"userId": "user-a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[models.ItemEdit](t, w).Applied)

	w = ts.do(t, http.MethodGet, "/api/video-calls/pending-items/"+item.ID+"/edits", nil)
	assert.Len(t, decode[[]models.ItemEdit](t, w), 1)

	w = ts.do(t, http.MethodGet, "/api/video-calls/posts/"+post.ID, nil)
	assert.InDelta(t, 20.0, decode[models.Post](t, w).Price, 1e-9)

	w = ts.do(t, http.MethodGet, "/api/video-calls/pending-items/user/user-b", nil)
	assert.Len(t, decode[[]models.PendingItem](t, w), 1)
}

func TestServer_UploadRejections(t *testing.T) {
	ts := newTestServer(t, 100)
	sessionID := ts.activeSession(t)

	w := uploadRecording(t, ts, "missing-session", []byte("x"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = uploadRecording(t, ts, sessionID, bytes.Repeat([]byte("x"), 2<<20))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/recordings/..%2Fserver.db", nil)
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestServer_BadRequests(t *testing.T) {
	ts := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/api/video-calls/sessions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, w))

	w = ts.do(t, http.MethodPost, "/api/video-calls/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/video-calls/waiting?dedupe=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/video-calls/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode[errors.HTTPErrorResponse](t, w).RequestID)
}

func TestServer_RateLimited(t *testing.T) {
	ts := newTestServer(t, 2)

	for range 2 {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/video-calls/waiting", nil).Code)
	}
	w := ts.do(t, http.MethodGet, "/api/video-calls/waiting", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, errors.ErrCodeRateLimit, errorCode(t, w))

	// health and metrics sit outside the limiter
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.activeSession(t)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Counters map[string]json.RawMessage `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.NotEmpty(t, snapshot.Counters)
}

func TestServer_StorageFailureRecordedOnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ts := newTestServer(t, 100)
	require.NoError(t, ts.db.Close())

	w := ts.do(t, http.MethodGet, "/api/video-calls/sessions/s1", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, errors.ErrCodeDatabaseQuery, errorCode(t, w))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var exception bool
	for _, event := range ended[0].Events() {
		if event.Name == "exception" {
			exception = true
			assert.Contains(t, event.Attributes, attribute.String("error.code", string(errors.ErrCodeDatabaseQuery)))
		}
	}
	assert.True(t, exception, "the failure is recorded as a span event")
}
