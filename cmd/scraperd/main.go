package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/internal/appconfig"
	"github.com/pulsetrack/scraper-go/pkg/config"
	"github.com/pulsetrack/scraper-go/pkg/logging"
	"github.com/pulsetrack/scraper-go/pkg/queue"
	"github.com/pulsetrack/scraper-go/pkg/retry"
	"github.com/pulsetrack/scraper-go/pkg/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(logging.NewColoredJSONFormatter())

	// Get log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	cfg, err := config.New()
	if err != nil {
		log.WithError(err).Fatal("Failed to load scraper config")
	}
	cfg.Logger = log

	db, err := store.SetupDatabase(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up database")
	}
	st := store.NewGormStore(db, log)

	orch, err := appconfig.ConfigureProviders(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to configure providers")
	}

	worker := queue.NewWorker(queue.WorkerConfig{
		Store:   st,
		Scraper: orch,
		Policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
		},
		PollInterval:     cfg.PollInterval,
		BatchSize:        cfg.BatchSize,
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		Logger:           log,
	})

	log.WithField("providers", cfg.ProviderPriority).Info("Starting scrape queue worker")
	worker.Start()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Received shutdown signal")
	worker.Stop()
	log.Info("Scraper shutdown complete")
}
