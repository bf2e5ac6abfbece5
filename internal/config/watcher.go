package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"duet/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 100 * time.Millisecond

// ConfigWatcher watches for configuration file changes and reloads configuration
type ConfigWatcher struct {
	configPath string
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
	ready      chan struct{}
	readyOnce  sync.Once
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
		ready:      make(chan struct{}),
	}
}

// Start loads the file and then blocks, reloading whenever it is written, until ctx
// is cancelled. The parent directory is watched so editors that replace the file
// by rename are noticed.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(cw.configPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")
	cw.readyOnce.Do(func() { close(cw.ready) })

	var debounce *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.logger.WithField("op", event.Op.String()).Debug("Configuration file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cw.reloadConfig()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.WithError(err).Error("Configuration watcher error")
		}
	}
}

// Ready is closed once the initial configuration is loaded and the watch is active.
func (cw *ConfigWatcher) Ready() <-chan struct{} {
	return cw.ready
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig keeps the previous configuration when the new file does not validate.
func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

// logConfigChanges logs the settings that take effect without a restart.
func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": old.LogLevel, "new": new.LogLevel}).Info("Log level changed")
	}

	if old.RateLimit.RequestsPerWindow != new.RateLimit.RequestsPerWindow || old.RateLimit.WindowSec != new.RateLimit.WindowSec {
		cw.logger.WithFields(logrus.Fields{
			"old_requests": old.RateLimit.RequestsPerWindow,
			"new_requests": new.RateLimit.RequestsPerWindow,
			"old_window":   old.RateLimit.WindowSec,
			"new_window":   new.RateLimit.WindowSec,
		}).Info("Rate limit changed")
	}

	if old.Matching.DedupeCatchBoardEnabled() != new.Matching.DedupeCatchBoardEnabled() {
		cw.logger.WithField("new", new.Matching.DedupeCatchBoardEnabled()).Info("Catch-board dedupe default changed")
	}

	if old.Relay.MessageFetchLimit != new.Relay.MessageFetchLimit {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Relay.MessageFetchLimit,
			"new": new.Relay.MessageFetchLimit,
		}).Info("Message fetch limit changed")
	}

	if old.Database != new.Database || old.Server.Port != new.Server.Port {
		cw.logger.Warn("Database and listener changes take effect after restart")
	}
}
