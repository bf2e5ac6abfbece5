package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"duet/internal/constants"
	"duet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "duet.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	validPath := writeConfig(t, tmpDir, `{
		"server": {"port": 9000, "trustedProxies": ["10.0.0.0/8"]},
		"database": {"path": "/var/lib/duet/duet.db"},
		"recordings": {"dir": "/var/lib/duet/recordings", "maxSizeMB": 100},
		"matching": {"waitingTTLMinutes": 10, "dedupeCatchBoard": false},
		"relay": {"messageFetchLimit": 25, "purgeMessagesOnEnd": true},
		"retry": {"initialBackoffMs": 200, "maxBackoffMs": 5000, "maxAttempts": 3},
		"log_level": "debug",
		"retentionDays": 14
	}`)

	tests := []struct {
		name    string
		path    string
		wantErr bool
		check   func(t *testing.T, c *models.Config)
	}{
		{
			name: "valid config",
			path: validPath,
			check: func(t *testing.T, c *models.Config) {
				assert.Equal(t, 9000, c.Server.Port)
				assert.Equal(t, []string{"10.0.0.0/8"}, c.Server.TrustedProxies)
				assert.Equal(t, "sqlite3", c.Database.Driver)
				assert.Equal(t, "/var/lib/duet/duet.db", c.Database.Path)
				assert.Equal(t, 100, c.Recordings.MaxSizeMB)
				assert.Equal(t, constants.DefaultRecordingTypes, c.Recordings.AllowedTypes)
				assert.Equal(t, 10*time.Minute, c.Matching.WaitingTTL())
				assert.False(t, c.Matching.DedupeCatchBoardEnabled())
				assert.Equal(t, 25, c.Relay.MessageFetchLimit)
				assert.True(t, c.Relay.PurgeMessagesOnEnd)
				assert.Equal(t, 3, c.Retry.MaxAttempts)
				assert.Equal(t, "debug", c.LogLevel)
				assert.Equal(t, 14, c.RetentionDays)
			},
		},
		{
			name: "empty path uses defaults",
			path: "",
			check: func(t *testing.T, c *models.Config) {
				assert.Equal(t, constants.DefaultServerPort, c.Server.Port)
				assert.Equal(t, constants.DefaultDatabasePath, c.Database.Path)
				assert.Equal(t, constants.DefaultRecordingsDir, c.Recordings.Dir)
				assert.Nil(t, c.Matching.WaitingTTLMinutes)
				assert.Equal(t, constants.DefaultWaitingTTLMinutes*time.Minute, c.Matching.WaitingTTL())
				assert.True(t, c.Matching.DedupeCatchBoardEnabled())
				assert.Equal(t, constants.DefaultMessageFetchLimit, c.Relay.MessageFetchLimit)
				assert.Equal(t, "memory", c.RateLimit.Backend)
				assert.Equal(t, "info", c.LogLevel)
				assert.Equal(t, constants.DefaultRetentionDays, c.RetentionDays)
			},
		},
		{
			name:    "missing file",
			path:    filepath.Join(tmpDir, "missing.json"),
			wantErr: true,
		},
		{
			name:    "traversal path",
			path:    "../../etc/passwd",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"server": `)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad driver", `{"database": {"driver": "postgres"}}`, "unsupported database driver"},
		{"mysql without dsn", `{"database": {"driver": "mysql"}}`, "missing mysql dsn"},
		{"bad port", `{"server": {"port": 70000}}`, "server.port"},
		{"bad recording type", `{"recordings": {"allowedTypes": ["exe"]}}`, "unsupported recording type"},
		{"negative ttl", `{"matching": {"waitingTTLMinutes": -5}}`, "waitingTTLMinutes"},
		{"fetch limit too large", `{"relay": {"messageFetchLimit": 100000}}`, "messageFetchLimit"},
		{"redis without addr", `{"rateLimit": {"backend": "redis"}}`, "redis address"},
		{"unknown backend", `{"rateLimit": {"backend": "memcached"}}`, "unknown rate limit backend"},
		{"bad log level", `{"log_level": "loud"}`, "invalid log level"},
		{"bad sample rate", `{"tracing": {"sample_rate": 2}}`, "sample_rate"},
		{"traversal db path", `{"database": {"path": "../outside.db"}}`, "invalid database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_WaitingTTLZeroDisablesExpiry(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"matching": {"waitingTTLMinutes": 0}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Matching.WaitingTTLMinutes)
	assert.Zero(t, cfg.Matching.WaitingTTL())

	path = writeConfig(t, t.TempDir(), `{"matching": {"waitingTTLMinutes": -1}}`)
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"server": {"port": 9000}, "database": {"path": "/data/file.db"}}`)

	t.Setenv("PORT", "9100")
	t.Setenv("DUET_DB_PATH", "/data/override.db")
	t.Setenv("DUET_RECORDINGS_DIR", "/data/rec")
	t.Setenv("DUET_LOG_LEVEL", "warn")
	t.Setenv("DUET_RATE_LIMIT_BACKEND", "redis")
	t.Setenv("DUET_REDIS_ADDR", "localhost:6379")
	t.Setenv("DUET_REDIS_PASSWORD", "pw")
	t.Setenv("DUET_TRUSTED_PROXIES", "127.0.0.1,10.0.0.0/8")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/data/override.db", cfg.Database.Path)
	assert.Equal(t, "/data/rec", cfg.Recordings.Dir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "pw", cfg.Redis.Password)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "collector:4318", cfg.Tracing.OTLPEndpoint)
}

func TestLoadConfig_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestValidateSecurity(t *testing.T) {
	t.Run("encryption requires long secret", func(t *testing.T) {
		t.Setenv("DUET_ENABLE_ENCRYPTION", "true")
		t.Setenv("DUET_ENCRYPTION_SECRET", "short")
		_, err := LoadConfig("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "encryption secret")
	})

	t.Run("encryption with valid secret", func(t *testing.T) {
		t.Setenv("DUET_ENABLE_ENCRYPTION", "true")
		t.Setenv("DUET_ENCRYPTION_SECRET", "0123456789abcdef0123456789abcdef")
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.True(t, cfg.Encryption.Enabled)
	})

	t.Run("debug logging rejected in production", func(t *testing.T) {
		t.Setenv("DUET_ENV", "production")
		t.Setenv("DUET_LOG_LEVEL", "debug")
		_, err := LoadConfig("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "production")
	})
}
