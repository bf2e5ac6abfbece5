package service

import (
	"sync"
	"time"

	"duet/internal/constants"
	"duet/internal/models"
)

// Settings holds the tunables that may change while the server runs.
type Settings struct {
	mu                 sync.RWMutex
	dedupeCatchBoard   bool
	messageFetchLimit  int
	maxMessageLength   int
	maxSignalPayloadKB int
	purgeMessagesOnEnd bool
	waitingTTL         time.Duration
	retentionDays      int
}

// NewSettings creates settings from cfg.
func NewSettings(cfg *models.Config) *Settings {
	s := &Settings{}
	s.Apply(cfg)
	return s
}

// Apply replaces the current values with those in cfg. Zero values fall back to defaults.
func (s *Settings) Apply(cfg *models.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dedupeCatchBoard = cfg.Matching.DedupeCatchBoardEnabled()
	s.messageFetchLimit = orDefault(cfg.Relay.MessageFetchLimit, constants.DefaultMessageFetchLimit)
	s.maxMessageLength = orDefault(cfg.Relay.MaxMessageLength, constants.DefaultMaxMessageLength)
	s.maxSignalPayloadKB = orDefault(cfg.Relay.MaxSignalPayloadKB, constants.DefaultMaxSignalPayloadKB)
	s.purgeMessagesOnEnd = cfg.Relay.PurgeMessagesOnEnd
	s.waitingTTL = cfg.Matching.WaitingTTL()
	s.retentionDays = orDefault(cfg.RetentionDays, constants.DefaultRetentionDays)
}

func (s *Settings) DedupeCatchBoard() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dedupeCatchBoard
}

func (s *Settings) MessageFetchLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messageFetchLimit
}

func (s *Settings) MaxMessageLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxMessageLength
}

func (s *Settings) MaxSignalPayloadKB() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSignalPayloadKB
}

func (s *Settings) PurgeMessagesOnEnd() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.purgeMessagesOnEnd
}

// WaitingTTL is how long a session may wait for a partner. Zero disables expiry.
func (s *Settings) WaitingTTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitingTTL
}

func (s *Settings) RetentionDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retentionDays
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
