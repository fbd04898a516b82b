package apify

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the Apify API root.
const DefaultBaseURL = "https://api.apify.com/v2"

// DefaultRequestTimeout bounds one synchronous actor run. Actor runs are
// slow; this is deliberately generous compared to plain REST providers.
const DefaultRequestTimeout = 60 * time.Second

// Config holds the Apify adapter settings.
type Config struct {
	// Token is the Apify API token; empty means the provider is unconfigured
	Token string
	// BaseURL is the API root, overridable for tests
	BaseURL string
	// RequestTimeout bounds a single actor run
	RequestTimeout time.Duration
	// Logger is the configured logrus logger instance
	Logger *logrus.Logger
}

// withDefaults fills unset fields so New never sees zero values.
func (c *Config) withDefaults() *Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c
}
