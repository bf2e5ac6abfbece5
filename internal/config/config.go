package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"duet/internal/constants"
	"duet/internal/models"
	"duet/internal/security"
	"duet/internal/validation"
)

var (
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
	ErrMissingDBDSN         = models.ConfigError{Message: "missing mysql dsn"}
	ErrMissingRecordingsDir = models.ConfigError{Message: "missing recordings directory"}
	ErrMissingRedisAddr     = models.ConfigError{Message: "missing redis address for redis rate limit backend"}
)

var supportedDrivers = []string{"sqlite3", "mysql"}
var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}

// LoadConfig reads the JSON file at path, fills defaults, applies environment overrides
// and validates the result. An empty path starts from defaults only.
func LoadConfig(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Database.Driver == "" {
		c.Database.Driver = constants.DefaultDatabaseDriver
	}
	if c.Database.Driver == "sqlite3" && c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}

	if c.Recordings.Dir == "" {
		c.Recordings.Dir = constants.DefaultRecordingsDir
	}
	if c.Recordings.MaxSizeMB == 0 {
		c.Recordings.MaxSizeMB = constants.DefaultMaxRecordingMB
	}
	if len(c.Recordings.AllowedTypes) == 0 {
		c.Recordings.AllowedTypes = slices.Clone(constants.DefaultRecordingTypes)
	}

	if c.Matching.SweepIntervalMinutes <= 0 {
		c.Matching.SweepIntervalMinutes = constants.DefaultSweepIntervalMinutes
	}

	if c.Relay.MessageFetchLimit <= 0 {
		c.Relay.MessageFetchLimit = constants.DefaultMessageFetchLimit
	}
	if c.Relay.MaxMessageLength <= 0 {
		c.Relay.MaxMessageLength = constants.DefaultMaxMessageLength
	}
	if c.Relay.MaxSignalPayloadKB <= 0 {
		c.Relay.MaxSignalPayloadKB = constants.DefaultMaxSignalPayloadKB
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = constants.DefaultRateLimitBackend
	}
	if c.RateLimit.RequestsPerWindow == 0 {
		c.RateLimit.RequestsPerWindow = constants.DefaultRateLimitRequests
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = constants.DefaultRateLimitWindowSec
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = constants.DefaultRedisKeyPrefix
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
}

func validate(c *models.Config) error {
	if err := validation.ValidateNumericRange(c.Server.Port, "server.port", 1, 65535); err != nil {
		return fieldError("server.port", err)
	}
	for field, v := range map[string]int{
		"server.readTimeoutSec":  c.Server.ReadTimeoutSec,
		"server.writeTimeoutSec": c.Server.WriteTimeoutSec,
		"server.idleTimeoutSec":  c.Server.IdleTimeoutSec,
	} {
		if err := validation.ValidateTimeout(v, field); err != nil {
			return fieldError(field, err)
		}
	}

	if !slices.Contains(supportedDrivers, c.Database.Driver) {
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver %q", c.Database.Driver)}
	}
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
		if err := security.ValidateFilePath(c.Database.Path); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
		}
	case "mysql":
		if c.Database.DSN == "" {
			return ErrMissingDBDSN
		}
	}

	if c.Recordings.Dir == "" {
		return ErrMissingRecordingsDir
	}
	if err := security.ValidateFilePath(c.Recordings.Dir); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid recordings directory: %v", err)}
	}
	for _, t := range c.Recordings.AllowedTypes {
		if _, ok := constants.RecordingMimeTypes["."+strings.TrimPrefix(strings.ToLower(t), ".")]; !ok {
			return models.ConfigError{Message: fmt.Sprintf("unsupported recording type %q", t)}
		}
	}

	if c.Matching.WaitingTTLMinutes != nil && *c.Matching.WaitingTTLMinutes < 0 {
		return models.ConfigError{Message: "matching.waitingTTLMinutes cannot be negative"}
	}
	if c.Relay.MessageFetchLimit > constants.MaxMessageFetchLimit {
		return models.ConfigError{Message: fmt.Sprintf("relay.messageFetchLimit too large (max %d)", constants.MaxMessageFetchLimit)}
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown rate limit backend %q", c.RateLimit.Backend)}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return models.ConfigError{Message: fmt.Sprintf("invalid log level %q", c.LogLevel)}
	}

	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return fieldError("retentionDays", err)
	}

	return nil
}

func fieldError(field string, err error) error {
	return models.ConfigError{Message: fmt.Sprintf("invalid %s: %v", field, err)}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("DUET_ENV") == "production"

	if c.Encryption.Enabled && len(c.Encryption.Secret) < constants.MinEncryptionSecretLength {
		return models.ConfigError{Message: fmt.Sprintf(
			"encryption secret must be at least %d characters long (set DUET_ENCRYPTION_SECRET)",
			constants.MinEncryptionSecretLength)}
	}

	if isProduction && strings.EqualFold(c.LogLevel, "debug") {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}

	if !isProduction && !c.Encryption.Enabled {
		fmt.Fprintf(os.Stderr, "WARNING: field encryption disabled. Set DUET_ENABLE_ENCRYPTION=true and DUET_ENCRYPTION_SECRET to encrypt chat content at rest.\n")
	}

	return nil
}
