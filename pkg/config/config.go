// Package config loads the scraper subsystem configuration from environment
// variables. Components never read the environment themselves; they receive
// this struct (or slices of it) at construction time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	// DefaultConcurrencyLimit is the max number of parallel scrape calls
	DefaultConcurrencyLimit = 5
	// DefaultMaxAttempts is the retry cap per task
	DefaultMaxAttempts = 3
	// DefaultBaseDelayMs is the exponential backoff base in milliseconds
	DefaultBaseDelayMs = 1000
	// DefaultFailureThreshold is the consecutive failures before a breaker opens
	DefaultFailureThreshold = 5
	// DefaultResetTimeoutMs is how long a breaker stays OPEN before trialing
	DefaultResetTimeoutMs = 60000
	// DefaultPollIntervalMs is the queue worker polling interval
	DefaultPollIntervalMs = 2000
	// DefaultBatchSize is the max queued tasks claimed per poll cycle
	DefaultBatchSize = 20
	// DefaultRequestTimeoutMs is the per-call timeout on each provider adapter
	DefaultRequestTimeoutMs = 30000
	// DefaultProviderRateLimit is requests per minute allowed per provider
	DefaultProviderRateLimit = 60
)

// DefaultProviderPriority is the fallback order when SCRAPER_PROVIDER_PRIORITY
// is not set. Lower index = tried first.
var DefaultProviderPriority = []string{"apify", "scrapecreators"}

// Config holds the complete scraper subsystem configuration.
type Config struct {
	// Worker
	ConcurrencyLimit int
	BatchSize        int
	PollInterval     time.Duration

	// Retry policy
	MaxAttempts int
	BaseDelay   time.Duration

	// Circuit breakers
	FailureThreshold int
	ResetTimeout     time.Duration

	// Providers
	ProviderPriority  []string
	RequestTimeout    time.Duration
	ProviderRateLimit int

	// Provider credentials
	ApifyToken           string
	ApifyBaseURL         string
	ScrapeCreatorsAPIKey string
	ScrapeCreatorsURL    string

	// Database
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	Logger *logrus.Logger
}

// New loads configuration from environment variables, falling back to
// defaults for anything unset. The .env file is loaded if present, but its
// absence is not an error.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		ConcurrencyLimit: getEnvInt("SCRAPER_CONCURRENCY_LIMIT", DefaultConcurrencyLimit),
		BatchSize:        getEnvInt("SCRAPER_BATCH_SIZE", DefaultBatchSize),
		PollInterval:     getEnvMillis("SCRAPER_POLL_INTERVAL_MS", DefaultPollIntervalMs),

		MaxAttempts: getEnvInt("SCRAPER_MAX_ATTEMPTS", DefaultMaxAttempts),
		BaseDelay:   getEnvMillis("SCRAPER_BASE_DELAY_MS", DefaultBaseDelayMs),

		FailureThreshold: getEnvInt("SCRAPER_FAILURE_THRESHOLD", DefaultFailureThreshold),
		ResetTimeout:     getEnvMillis("SCRAPER_RESET_TIMEOUT_MS", DefaultResetTimeoutMs),

		ProviderPriority:  getEnvList("SCRAPER_PROVIDER_PRIORITY", DefaultProviderPriority),
		RequestTimeout:    getEnvMillis("PROVIDER_REQUEST_TIMEOUT_MS", DefaultRequestTimeoutMs),
		ProviderRateLimit: getEnvInt("PROVIDER_RATE_LIMIT", DefaultProviderRateLimit),

		ApifyToken:           os.Getenv("APIFY_TOKEN"),
		ApifyBaseURL:         getEnvOrDefault("APIFY_BASE_URL", "https://api.apify.com/v2"),
		ScrapeCreatorsAPIKey: os.Getenv("SCRAPECREATORS_API_KEY"),
		ScrapeCreatorsURL:    getEnvOrDefault("SCRAPECREATORS_BASE_URL", "https://api.scrapecreators.com/v1"),

		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseUser:     os.Getenv("DB_USER"),
		DatabasePassword: os.Getenv("DB_PASSWORD"),
		DatabaseName:     os.Getenv("DB_NAME"),

		Logger: func() *logrus.Logger {
			log := logrus.New()
			if level := os.Getenv("LOG_LEVEL"); level != "" {
				if parsed, err := logrus.ParseLevel(level); err == nil {
					log.SetLevel(parsed)
				}
			}
			return log
		}(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"concurrency_limit": cfg.ConcurrencyLimit,
		"max_attempts":      cfg.MaxAttempts,
		"failure_threshold": cfg.FailureThreshold,
		"provider_priority": cfg.ProviderPriority,
	}).Debug("Scraper config initialized")

	return cfg, nil
}

// Validate checks the configuration for values that would break the worker
// or the breakers at runtime.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency limit must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if len(c.ProviderPriority) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	return nil
}

// DatabaseDSN returns the postgres DSN assembled from the DB_* variables.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DatabaseHost, c.DatabaseUser, c.DatabasePassword, c.DatabaseName, c.DatabasePort)
}

// DatabaseURL returns the postgres URL used by the migration runner.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser, c.DatabasePassword, c.DatabaseHost, c.DatabasePort, c.DatabaseName)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	logrus.WithFields(logrus.Fields{
		"key":     key,
		"value":   value,
		"default": defaultValue,
	}).Warn("Invalid integer in environment, using default")
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
