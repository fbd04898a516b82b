// Package scrapecreators implements the provider adapter for the
// ScrapeCreators REST API, a key-in-header service that returns post
// metrics as flat JSON.
package scrapecreators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/providers"
)

// Name is the provider name used for registration and breaker keying.
const Name = "scrapecreators"

// DefaultBaseURL is the ScrapeCreators API root.
const DefaultBaseURL = "https://api.scrapecreators.com/v1"

// DefaultRequestTimeout bounds one metrics request.
const DefaultRequestTimeout = 30 * time.Second

var supportedPlatforms = map[providers.Platform]bool{
	providers.PlatformInstagram: true,
	providers.PlatformTikTok:    true,
	providers.PlatformYouTube:   true,
	providers.PlatformTwitter:   true,
}

// Config holds the ScrapeCreators adapter settings.
type Config struct {
	// APIKey authenticates requests; empty means the provider is unconfigured
	APIKey string
	// BaseURL is the API root, overridable for tests
	BaseURL string
	// RequestTimeout bounds a single request
	RequestTimeout time.Duration
	// Logger is the configured logrus logger instance
	Logger *logrus.Logger
}

// Adapter scrapes engagement metrics through the ScrapeCreators API.
type Adapter struct {
	config *Config
	client *http.Client
	logger *logrus.Logger
}

// New creates a ScrapeCreators adapter. A missing key surfaces as a
// "not configured" error at call time, not at construction.
func New(config *Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Adapter{
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: config.Logger,
	}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string {
	return Name
}

// Supports implements providers.Adapter.
func (a *Adapter) Supports(platform providers.Platform) bool {
	return supportedPlatforms[platform]
}

type postResponse struct {
	ID       string `json:"id"`
	Views    int64  `json:"views"`
	Likes    int64  `json:"likes"`
	Comments int64  `json:"comments"`
	Shares   int64  `json:"shares"`
	Error    string `json:"error"`
}

// Scrape implements providers.Adapter.
func (a *Adapter) Scrape(ctx context.Context, postURL string, platform providers.Platform) (*providers.Metrics, error) {
	if a.config.APIKey == "" {
		return nil, providers.NewScrapeError(Name, "provider not configured: missing SCRAPECREATORS_API_KEY", nil)
	}
	if !a.Supports(platform) {
		return nil, providers.NewScrapeError(Name, fmt.Sprintf("unsupported platform: %s", platform), nil)
	}

	endpoint := fmt.Sprintf("%s/%s/post?url=%s", a.config.BaseURL, platform, url.QueryEscape(postURL))

	a.logger.WithFields(logrus.Fields{
		"provider": Name,
		"platform": platform,
		"url":      postURL,
	}).Debug("Requesting post metrics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("x-api-key", a.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, providers.NewScrapeError(Name, "request timeout", err)
		}
		return nil, providers.NewScrapeError(Name, fmt.Sprintf("network error: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError(resp)
	}

	var post postResponse
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, providers.NewScrapeError(Name, fmt.Sprintf("error decoding response: %v", err), err)
	}
	if post.Error != "" {
		return nil, providers.NewScrapeError(Name, post.Error, nil)
	}

	metrics := &providers.Metrics{
		Views:    post.Views,
		Likes:    post.Likes,
		Comments: post.Comments,
		Shares:   post.Shares,
		PostID:   post.ID,
	}
	metrics.ComputeEngagementRate()

	return metrics, nil
}

func (a *Adapter) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	a.logger.WithFields(logrus.Fields{
		"provider":    Name,
		"status_code": resp.StatusCode,
		"body":        string(raw),
	}).Error("ScrapeCreators API error")

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return providers.NewScrapeError(Name, "authentication required: invalid API key", nil)
	case http.StatusPaymentRequired:
		return providers.NewScrapeError(Name, "API subscription expired or credit limit reached", nil)
	case http.StatusForbidden:
		return providers.NewScrapeError(Name, "post is private or deleted", nil)
	case http.StatusNotFound:
		return providers.NewScrapeError(Name, "post not found", nil)
	case http.StatusBadRequest:
		return providers.NewScrapeError(Name, "invalid url", nil)
	default:
		return providers.NewScrapeError(Name,
			fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}
}
