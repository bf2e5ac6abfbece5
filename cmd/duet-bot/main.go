package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duet/internal/orchestrator"
	"duet/internal/orchestrator/pionpeer"
	"duet/pkg/client"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Version is set at build time.
var Version = "dev"

// botConfig is read from the environment; flags of the same name win.
type botConfig struct {
	ServerURL   string        `env:"DUET_BOT_SERVER_URL" envDefault:"http://localhost:8082"`
	UserID      string        `env:"DUET_BOT_USER_ID"`
	Username    string        `env:"DUET_BOT_USERNAME" envDefault:"bot"`
	Calls       int           `env:"DUET_BOT_CALLS" envDefault:"1"`
	CallLength  time.Duration `env:"DUET_BOT_CALL_LENGTH" envDefault:"10s"`
	Price       float64       `env:"DUET_BOT_PRICE" envDefault:"0"`
	ICEServers  []string      `env:"DUET_BOT_ICE_SERVERS" envSeparator:","`
	Loopback    bool          `env:"DUET_BOT_LOOPBACK"`
	PollEvery   time.Duration `env:"DUET_BOT_POLL_INTERVAL" envDefault:"1s"`
	RecordDir   string        `env:"DUET_BOT_RECORD_DIR"`
	LogLevel    string        `env:"DUET_BOT_LOG_LEVEL" envDefault:"info"`
	HTTPTimeout time.Duration `env:"DUET_BOT_HTTP_TIMEOUT" envDefault:"30s"`
	Verbose     bool          `env:"DUET_BOT_VERBOSE"`
}

func loadBotConfig(args []string) (cfg botConfig, showVersion bool, err error) {
	if err := env.Parse(&cfg); err != nil {
		return cfg, false, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("duet-bot", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "API server base URL")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "User id the bot calls as")
	fs.StringVar(&cfg.Username, "name", cfg.Username, "Name used in chat greetings")
	fs.IntVar(&cfg.Calls, "calls", cfg.Calls, "Number of calls before exiting (0 runs until interrupted)")
	fs.DurationVar(&cfg.CallLength, "call-length", cfg.CallLength, "How long each connected call lasts")
	fs.Float64Var(&cfg.Price, "price", cfg.Price, "Price set on owned recordings")
	fs.BoolVar(&cfg.Loopback, "loopback", cfg.Loopback, "Gather loopback ICE candidates")
	fs.StringVar(&cfg.RecordDir, "record-dir", cfg.RecordDir, "Directory for temporary recordings")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging (includes ids and chat content)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if showVersion {
		return cfg, true, nil
	}

	if cfg.UserID == "" {
		return cfg, false, fmt.Errorf("user id is required (-user or DUET_BOT_USER_ID)")
	}
	if cfg.Calls < 0 {
		return cfg, false, fmt.Errorf("calls must be >= 0")
	}
	return cfg, false, nil
}

func main() {
	cfg, showVersion, err := loadBotConfig(os.Args[1:])
	if showVersion {
		fmt.Printf("duet-bot %s\n", Version)
		os.Exit(0)
	}
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatalf("Bot error: %v", err)
	}
}

func run(ctx context.Context, cfg botConfig) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if cfg.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	api := client.New(client.Config{BaseURL: cfg.ServerURL, Timeout: cfg.HTTPTimeout}, logger)

	peerCfg := pionpeer.DefaultConfig()
	if len(cfg.ICEServers) > 0 {
		peerCfg.ICEServers = cfg.ICEServers
	}
	peerCfg.IncludeLoopback = cfg.Loopback
	peers, err := pionpeer.NewFactory(peerCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create peer factory: %w", err)
	}

	b := newBot(cfg, api, logger)
	o, err := orchestrator.New(api, peers, newRecorder(cfg.RecordDir, cfg.Username, logger), b, b, b.wantAnother, orchestrator.Options{
		UserID:        cfg.UserID,
		MatchInterval: cfg.PollEvery,
		PollInterval:  cfg.PollEvery,
		Verbose:       cfg.Verbose,
		OnState: func(s orchestrator.State) {
			logger.WithField("state", s.String()).Debug("Bot state changed")
		},
	}, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"server": cfg.ServerURL,
		"calls":  cfg.Calls,
	}).Info("Starting duet-bot")
	return o.Run(ctx)
}
