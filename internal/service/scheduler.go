package service

import (
	"context"
	"time"

	"duet/internal/constants"
	"duet/internal/database"
	"duet/internal/metrics"
	"duet/internal/retry"

	"github.com/sirupsen/logrus"
)

// Scheduler periodically ends stale waiting sessions and removes signals
// that best-effort purges left behind.
type Scheduler struct {
	sessions SessionStore
	signals  SignalStore
	settings *Settings
	interval time.Duration
	backoff  *retry.Backoff
	logger   *logrus.Logger
	stopCh   chan struct{}
	now      func() time.Time
}

func NewScheduler(sessions SessionStore, signals SignalStore, settings *Settings, interval time.Duration, backoff retry.BackoffConfig, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = constants.DefaultSweepIntervalMinutes * time.Minute
	}
	return &Scheduler{
		sessions: sessions,
		signals:  signals,
		settings: settings,
		interval: interval,
		backoff:  retry.NewBackoff(backoff),
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Info("Starting session sweeper")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.expireWaiting(ctx)
	s.purgeStaleSignals(ctx)
	s.reportWaiting(ctx)
}

func (s *Scheduler) expireWaiting(ctx context.Context) {
	ttl := s.settings.WaitingTTL()
	if ttl <= 0 {
		return
	}

	now := s.now()
	var expired int64
	err := s.backoff.RetryWithPredicate(ctx, func() error {
		n, err := s.sessions.ExpireWaitingSessions(ctx, now.Add(-ttl), now)
		expired = n
		return err
	}, database.IsRetryableError)
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire waiting sessions")
		return
	}

	if expired > 0 {
		metrics.AddToCounter(metrics.SessionsExpired, float64(expired), nil, "Waiting sessions ended by the sweeper")
		s.logger.WithField(LogFieldCount, expired).Info("Expired stale waiting sessions")
	}
}

func (s *Scheduler) purgeStaleSignals(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.settings.RetentionDays())
	var purged int64
	err := s.backoff.RetryWithPredicate(ctx, func() error {
		n, err := s.signals.DeleteSignalsOfEndedSessions(ctx, cutoff)
		purged = n
		return err
	}, database.IsRetryableError)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge stale signals")
		return
	}
	if purged > 0 {
		s.logger.WithField(LogFieldCount, purged).Info("Purged signals of ended sessions")
	}
}

func (s *Scheduler) reportWaiting(ctx context.Context) {
	waiting, err := s.sessions.ListWaitingSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to count waiting sessions")
		return
	}
	metrics.SetGauge(metrics.WaitingSessions, float64(len(waiting)), nil, "Sessions on the catch-board")
}
