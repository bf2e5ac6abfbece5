package integration

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"duet/internal/database"
	"duet/internal/models"
	"duet/internal/ratelimit"
	"duet/internal/server"
	"duet/internal/service"
	"duet/pkg/client"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testEncryptionSecret = "test-secret-key-for-integration-tests-32bytes!!"

// TestEnvironment runs the full HTTP stack against a real sqlite database.
type TestEnvironment struct {
	t             *testing.T
	name          string
	db            *database.Database
	recordingsDir string
	httpServer    *httptest.Server
	fixtures      *TestFixtures
	logger        *logrus.Logger
	cleanup       []func()
	startTime     time.Time
}

// NewTestEnvironment creates a complete test environment and seeds the fixture users.
func NewTestEnvironment(t *testing.T, name string) *TestEnvironment {
	env := &TestEnvironment{
		t:         t,
		name:      fmt.Sprintf("%s_%d", name, time.Now().UnixNano()),
		fixtures:  NewTestFixtures(),
		cleanup:   make([]func(), 0),
		startTime: time.Now(),
	}

	env.logger = logrus.New()
	env.logger.SetOutput(io.Discard)

	env.setupDatabase()
	env.recordingsDir = filepath.Join(t.TempDir(), "recordings")
	env.setupHTTPServer()
	env.seedUsers()

	t.Cleanup(env.Cleanup)
	return env
}

func (env *TestEnvironment) setupDatabase() {
	db, cleanup := NewTestDatabase(env.t, &TestDatabaseOptions{EncryptionSecret: testEncryptionSecret})
	env.db = db
	env.cleanup = append(env.cleanup, cleanup)
}

func (env *TestEnvironment) setupHTTPServer() {
	cfg := &models.Config{
		Recordings: models.RecordingsConfig{Dir: env.recordingsDir, MaxSizeMB: 1},
	}
	settings := service.NewSettings(cfg)
	svc := server.Services{
		Sessions:   service.NewSessionService(env.db, env.db, env.db, env.db, settings, env.logger),
		Relay:      service.NewRelayService(env.db, env.db, env.db, settings, env.logger),
		Consent:    service.NewConsentService(env.db, env.db, env.db, env.db, env.logger),
		Recordings: service.NewRecordingService(env.db, cfg.Recordings, env.logger),
		Store:      env.db,
	}

	srv, err := server.New(cfg, svc, ratelimit.NewRateLimiter(1_000_000, time.Minute), env.logger, false)
	require.NoError(env.t, err)

	env.httpServer = httptest.NewServer(srv.Handler())
	env.cleanup = append(env.cleanup, env.httpServer.Close)
}

func (env *TestEnvironment) seedUsers() {
	for _, u := range env.fixtures.Users() {
		require.NoError(env.t, env.db.UpsertUser(context.Background(), &u))
	}
}

// Client returns an API client bound to the environment's server.
func (env *TestEnvironment) Client() *client.Client {
	return client.New(client.Config{BaseURL: env.httpServer.URL, Timeout: 5 * time.Second}, env.logger)
}

// Cleanup releases resources in reverse order of creation. It is safe to call twice.
func (env *TestEnvironment) Cleanup() {
	for i := len(env.cleanup) - 1; i >= 0; i-- {
		env.cleanup[i]()
	}
	env.cleanup = nil
}
