package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 60
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultHTTPTimeoutSec        = 30
	DefaultAPIPrefix             = "/api/video-calls"
)

// Default storage configuration values
const (
	DefaultDatabaseDriver        = "sqlite3"
	DefaultDatabasePath          = "duet.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultBusyTimeoutMs         = 5000
	DefaultRetentionDays         = 30
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs    = 1000
	DefaultMaxBackoffMs      = 60000
	DefaultMaxAttempts       = 5
	DefaultBackoffInitialMs  = 500
	DefaultBackoffMaxSec     = 5
	DefaultBackoffMultiplier = 2.0
)

// Matchmaking defaults
const (
	DefaultWaitingTTLMinutes     = 30
	DefaultSweepIntervalMinutes  = 5
	DefaultDedupeCatchBoard      = true
	DefaultMatchPollIntervalMs   = 1000
	DefaultSignalPollIntervalMs  = 1000
	DefaultMessagePollIntervalMs = 1000
)

// Relay defaults
const (
	DefaultMessageFetchLimit  = 50
	MaxMessageFetchLimit      = 500
	DefaultMaxMessageLength   = 2000
	DefaultMaxSignalPayloadKB = 64
)

// Consent workflow defaults
const (
	DefaultPostCaption     = "Untitled Recording"
	MaxTitleLength         = 200
	MaxDescriptionLength   = 5000
	MaxCategoryTags        = 20
	MaxCategoryTagLength   = 50
	MaxPrice               = 1_000_000.0
	DefaultRecordingsDir   = "recordings"
	DefaultRecordingsRoute = "/recordings"
	DefaultMaxRecordingMB  = 500
)

// Rate limiting defaults
const (
	DefaultRateLimitRequests  = 600
	DefaultRateLimitWindowSec = 60
	DefaultRateLimitBackend   = "memory"
	DefaultRedisKeyPrefix     = "duet:ratelimit"
)

// Privacy settings
const (
	DefaultUserIDMaskLength    = 4
	DefaultSessionIDMaskLength = 6
)

// Input limits
const (
	MaxIdentifierLength = 128
	MaxUsernameLength   = 64
	MaxCallDurationSec  = 24 * 60 * 60
	BytesPerMegabyte    = 1024 * 1024
)

// Encryption key derivation salt. Changing it makes existing ciphertext unreadable.
const EncryptionSalt = "duet-field-encryption-v1"

// MinEncryptionSecretLength is the shortest accepted encryption secret.
const MinEncryptionSecretLength = 32
