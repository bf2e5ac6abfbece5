package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duet/internal/config"
	"duet/internal/constants"
	"duet/internal/database"
	"duet/internal/models"
	"duet/internal/ratelimit"
	"duet/internal/retry"
	"duet/internal/server"
	"duet/internal/service"
	"duet/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes user ids and chat content)")
	configPath = flag.String("config", "duet.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("duet %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting duet")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled - user ids and chat content will be logged")
	}

	tracingManager := tracing.NewTracingManager(tracing.ConfigFrom(cfg.Tracing, Version), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoffConfig := retry.ConfigFrom(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	err = retry.NewBackoff(backoffConfig).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, database.Options{
			Driver: cfg.Database.Driver,
			Path:   cfg.Database.Path,
			DSN:    cfg.Database.DSN,
			Encryption: database.EncryptionOptions{
				Enabled: cfg.Encryption.Enabled,
				Secret:  cfg.Encryption.Secret,
			},
		})
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()
	logger.WithField("driver", db.Driver()).Info("Database ready")

	limiter, closeLimiter, err := ratelimit.NewReloadable(ctx, cfg.RateLimit, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer closeLimiter()

	settings := service.NewSettings(cfg)
	services := server.Services{
		Sessions:   service.NewSessionService(db, db, db, db, settings, logger),
		Relay:      service.NewRelayService(db, db, db, settings, logger),
		Consent:    service.NewConsentService(db, db, db, db, logger),
		Recordings: service.NewRecordingService(db, cfg.Recordings, logger),
		Store:      db,
	}

	if *configPath != "" {
		watcher := config.NewConfigWatcher(*configPath, logger)
		watcher.OnConfigChange(func(newCfg *models.Config) {
			settings.Apply(newCfg)
			applyLogLevel(logger, newCfg.LogLevel, *verbose)
			if limiter.Update(newCfg.RateLimit) {
				logger.WithField("requests_per_window", newCfg.RateLimit.RequestsPerWindow).Info("Rate limit updated")
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	scheduler := service.NewScheduler(db, db, settings,
		time.Duration(cfg.Matching.SweepIntervalMinutes)*time.Minute, retry.ConfigFrom(cfg.Retry), logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	srv, err := server.New(cfg, services, limiter, logger, *verbose)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the configured level; -verbose always wins with debug.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
