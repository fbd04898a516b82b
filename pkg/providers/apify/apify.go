// Package apify implements the provider adapter for Apify scraping actors.
// Each supported platform maps to one actor run synchronously through the
// run-sync-get-dataset-items endpoint.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/providers"
)

// Name is the provider name used for registration and breaker keying.
const Name = "apify"

// actorIDs maps each supported platform to the Apify actor that scrapes it.
var actorIDs = map[providers.Platform]string{
	providers.PlatformInstagram: "apify~instagram-scraper",
	providers.PlatformTikTok:    "clockworks~tiktok-scraper",
	providers.PlatformYouTube:   "streamers~youtube-scraper",
}

// Adapter scrapes engagement metrics through the Apify API.
type Adapter struct {
	config *Config
	client *http.Client
	logger *logrus.Logger
}

// New creates an Apify adapter. A missing token is not a construction error;
// calls will fail with a "not configured" provider error so the orchestrator
// can fall over to the next provider.
func New(config *Config) *Adapter {
	config = config.withDefaults()
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
	_, ok := actorIDs[platform]
	return ok
}

type runInput struct {
	DirectURLs   []string `json:"directUrls"`
	ResultsLimit int      `json:"resultsLimit"`
}

// datasetItem is the subset of actor output fields the adapter reads. Field
// names differ per actor; aliases cover the actors in actorIDs.
type datasetItem struct {
	ID             string  `json:"id"`
	VideoPlayCount int64   `json:"videoPlayCount"`
	PlayCount      int64   `json:"playCount"`
	ViewCount      int64   `json:"viewCount"`
	LikesCount     int64   `json:"likesCount"`
	DiggCount      int64   `json:"diggCount"`
	CommentsCount  int64   `json:"commentsCount"`
	CommentCount   int64   `json:"commentCount"`
	SharesCount    int64   `json:"sharesCount"`
	ShareCount     int64   `json:"shareCount"`
	Error          string  `json:"error"`
	ErrorDesc      string  `json:"errorDescription"`
	EngagementRate float64 `json:"engagementRate"`
}

// Scrape implements providers.Adapter.
func (a *Adapter) Scrape(ctx context.Context, postURL string, platform providers.Platform) (*providers.Metrics, error) {
	if a.config.Token == "" {
		return nil, providers.NewScrapeError(Name, "provider not configured: missing APIFY_TOKEN", nil)
	}

	actorID, ok := actorIDs[platform]
	if !ok {
		return nil, providers.NewScrapeError(Name, fmt.Sprintf("unsupported platform: %s", platform), nil)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		a.config.BaseURL, actorID, url.QueryEscape(a.config.Token))

	body, err := json.Marshal(runInput{DirectURLs: []string{postURL}, ResultsLimit: 1})
	if err != nil {
		return nil, fmt.Errorf("error marshaling actor input: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"provider": Name,
		"actor":    actorID,
		"platform": platform,
		"url":      postURL,
	}).Debug("Starting Apify actor run")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, a.statusError(resp)
	}

	var items []datasetItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, providers.NewScrapeError(Name, fmt.Sprintf("error decoding actor response: %v", err), err)
	}

	if len(items) == 0 {
		return nil, providers.NewScrapeError(Name, "post not found: actor returned no items", nil)
	}

	item := items[0]
	if item.Error != "" {
		// The Instagram actor reports unreachable posts inside the dataset.
		return nil, providers.NewScrapeError(Name, actorItemError(item), nil)
	}

	metrics := &providers.Metrics{
		Views:          firstNonZero(item.VideoPlayCount, item.PlayCount, item.ViewCount),
		Likes:          firstNonZero(item.LikesCount, item.DiggCount),
		Comments:       firstNonZero(item.CommentsCount, item.CommentCount),
		Shares:         firstNonZero(item.SharesCount, item.ShareCount),
		EngagementRate: item.EngagementRate,
		PostID:         item.ID,
	}
	metrics.ComputeEngagementRate()

	a.logger.WithFields(logrus.Fields{
		"provider": Name,
		"platform": platform,
		"views":    metrics.Views,
		"likes":    metrics.Likes,
	}).Debug("Apify scrape succeeded")

	return metrics, nil
}

func (a *Adapter) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	a.logger.WithFields(logrus.Fields{
		"provider":    Name,
		"status_code": resp.StatusCode,
		"body":        string(raw),
	}).Error("Apify API error")

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return providers.NewScrapeError(Name, "authentication required: token rejected", nil)
	case http.StatusPaymentRequired:
		return providers.NewScrapeError(Name, "credit limit exceeded on Apify account", nil)
	case http.StatusNotFound:
		return providers.NewScrapeError(Name, "not found: unknown actor or dataset", nil)
	default:
		return providers.NewScrapeError(Name,
			fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}
}

// actorItemError normalises dataset-level errors into the shared
// classification vocabulary.
func actorItemError(item datasetItem) string {
	switch item.Error {
	case "not_found", "post_not_found":
		return "post not found"
	case "restricted_page", "private_account":
		return "post is private or deleted"
	default:
		if item.ErrorDesc != "" {
			return fmt.Sprintf("%s: %s", item.Error, item.ErrorDesc)
		}
		return item.Error
	}
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewScrapeError(Name, "request timeout", err)
	}
	return providers.NewScrapeError(Name, fmt.Sprintf("network error: %v", err), err)
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
