package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"duet/internal/models"

	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	}
}

func TestBackoff_DefaultConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(models.RetryConfig{InitialBackoffMs: 250, MaxBackoffMs: 4000, MaxAttempts: 7})
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)

	assert.Equal(t, DefaultBackoffConfig(), ConfigFrom(models.RetryConfig{}))
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	b := NewBackoff(fastConfig(5))
	calls := 0

	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	b := NewBackoff(fastConfig(3))
	calls := 0
	boom := errors.New("boom")

	err := b.Retry(context.Background(), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestBackoff_WithPredicate_NonRetryableError(t *testing.T) {
	b := NewBackoff(fastConfig(5))
	calls := 0
	fatal := errors.New("fatal")

	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, MaxAttempts: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Retry(ctx, func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoff_ExponentialAndCapped(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2, MaxAttempts: 10})

	assert.Equal(t, 10*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 20*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 40*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, 50*time.Millisecond, b.GetNextDelay(4))
	assert.Equal(t, 50*time.Millisecond, b.GetNextDelay(1000))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 3, Jitter: true})

	for i := 0; i < 100; i++ {
		d := b.GetNextDelay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestNewBackoff_NormalizesConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	calls := 0
	_ = b.Retry(context.Background(), func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
