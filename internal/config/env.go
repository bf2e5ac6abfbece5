package config

import (
	"fmt"

	"duet/internal/models"

	"github.com/caarlos0/env/v11"
)

// environment holds the overrides read from the process environment. Unset
// variables leave the file value untouched.
type environment struct {
	Port             *int     `env:"PORT"`
	DBDriver         *string  `env:"DUET_DB_DRIVER"`
	DBPath           *string  `env:"DUET_DB_PATH"`
	DBDSN            *string  `env:"DUET_DB_DSN"`
	RecordingsDir    *string  `env:"DUET_RECORDINGS_DIR"`
	RateLimitBackend *string  `env:"DUET_RATE_LIMIT_BACKEND"`
	RedisAddr        *string  `env:"DUET_REDIS_ADDR"`
	RedisPassword    *string  `env:"DUET_REDIS_PASSWORD"`
	EnableEncryption *bool    `env:"DUET_ENABLE_ENCRYPTION"`
	EncryptionSecret *string  `env:"DUET_ENCRYPTION_SECRET"`
	LogLevel         *string  `env:"DUET_LOG_LEVEL"`
	TrustedProxies   []string `env:"DUET_TRUSTED_PROXIES" envSeparator:","`
	OTLPEndpoint     *string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func applyEnvironmentOverrides(c *models.Config) error {
	var e environment
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set(&c.Server.Port, e.Port)
	set(&c.Database.Driver, e.DBDriver)
	set(&c.Database.Path, e.DBPath)
	set(&c.Database.DSN, e.DBDSN)
	set(&c.Recordings.Dir, e.RecordingsDir)
	set(&c.RateLimit.Backend, e.RateLimitBackend)
	set(&c.Redis.Addr, e.RedisAddr)
	set(&c.Redis.Password, e.RedisPassword)
	set(&c.Encryption.Enabled, e.EnableEncryption)
	set(&c.Encryption.Secret, e.EncryptionSecret)
	set(&c.LogLevel, e.LogLevel)
	set(&c.Tracing.OTLPEndpoint, e.OTLPEndpoint)
	if len(e.TrustedProxies) > 0 {
		c.Server.TrustedProxies = e.TrustedProxies
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
