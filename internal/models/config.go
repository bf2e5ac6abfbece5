package models

import (
	"time"

	"duet/internal/constants"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig     `json:"server"`
	Database      DatabaseConfig   `json:"database"`
	Recordings    RecordingsConfig `json:"recordings"`
	Matching      MatchingConfig   `json:"matching"`
	Relay         RelayConfig      `json:"relay"`
	RateLimit     RateLimitConfig  `json:"rateLimit"`
	Redis         RedisConfig      `json:"redis"`
	Encryption    EncryptionConfig `json:"encryption"`
	Tracing       TracingConfig    `json:"tracing"`
	Retry         RetryConfig      `json:"retry"`
	LogLevel      string           `json:"log_level"`
	RetentionDays int              `json:"retentionDays"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            int      `json:"port"`
	ReadTimeoutSec  int      `json:"readTimeoutSec"`
	WriteTimeoutSec int      `json:"writeTimeoutSec"`
	IdleTimeoutSec  int      `json:"idleTimeoutSec"`
	TrustedProxies  []string `json:"trustedProxies"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// RecordingsConfig controls where uploaded call recordings are stored
type RecordingsConfig struct {
	Dir          string   `json:"dir"`
	MaxSizeMB    int      `json:"maxSizeMB"`
	AllowedTypes []string `json:"allowedTypes"`
}

// MatchingConfig controls the waiting pool
type MatchingConfig struct {
	WaitingTTLMinutes    *int  `json:"waitingTTLMinutes"`
	SweepIntervalMinutes int   `json:"sweepIntervalMinutes"`
	DedupeCatchBoard     *bool `json:"dedupeCatchBoard"`
}

// RelayConfig bounds signal and chat traffic
type RelayConfig struct {
	MessageFetchLimit  int  `json:"messageFetchLimit"`
	MaxMessageLength   int  `json:"maxMessageLength"`
	MaxSignalPayloadKB int  `json:"maxSignalPayloadKB"`
	PurgeMessagesOnEnd bool `json:"purgeMessagesOnEnd"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Backend           string `json:"backend"`
	RequestsPerWindow int    `json:"requestsPerWindow"`
	WindowSec         int    `json:"windowSec"`
}

// RedisConfig is used by the redis rate limit backend
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

// EncryptionConfig enables at-rest encryption of chat content and signal payloads
type EncryptionConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"-"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	UseStdout    bool    `json:"use_stdout"`
	Environment  string  `json:"environment"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// DedupeCatchBoardEnabled returns the configured default, true when unset.
func (m MatchingConfig) DedupeCatchBoardEnabled() bool {
	return m.DedupeCatchBoard == nil || *m.DedupeCatchBoard
}

// WaitingTTL returns how long a session may wait for a partner. Unset means the default, zero disables expiry.
func (m MatchingConfig) WaitingTTL() time.Duration {
	minutes := constants.DefaultWaitingTTLMinutes
	if m.WaitingTTLMinutes != nil {
		minutes = *m.WaitingTTLMinutes
	}
	return time.Duration(minutes) * time.Minute
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
