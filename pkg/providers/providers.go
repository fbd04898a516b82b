// Package providers defines the uniform contract every metrics data source
// implements, together with the types that cross that boundary. Each provider
// is a black box: it receives a post URL and platform and returns either the
// engagement numbers or a classified error. How a provider extracts those
// numbers from its upstream API is its own business.
package providers

import (
	"context"
)

// Platform identifies the social network a post lives on.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
)

// Metrics holds the engagement numbers scraped for a single post.
type Metrics struct {
	// Views is the view/impression count reported by the provider
	Views int64 `json:"views"`
	// Likes is the like/favourite count
	Likes int64 `json:"likes"`
	// Comments is the comment/reply count
	Comments int64 `json:"comments"`
	// Shares is the share/retweet count
	Shares int64 `json:"shares"`
	// EngagementRate is (likes+comments+shares)/views, in percent
	EngagementRate float64 `json:"engagementRate"`
	// PostID is the provider's canonical ID for the post, when known
	PostID string `json:"postId,omitempty"`
}

// ComputeEngagementRate fills in EngagementRate when the provider did not
// supply one. A zero view count leaves the rate at zero.
func (m *Metrics) ComputeEngagementRate() {
	if m.EngagementRate != 0 || m.Views == 0 {
		return
	}
	m.EngagementRate = float64(m.Likes+m.Comments+m.Shares) / float64(m.Views) * 100
}

// Adapter is the contract every metrics provider implements.
//
// Scrape must honour ctx cancellation and apply its own per-call timeout.
// Errors returned from Scrape are classified downstream by their message;
// adapters should wrap upstream failures in *ScrapeError so the provider
// name travels with the error.
type Adapter interface {
	// Name returns the unique provider name used for registration,
	// circuit breaker keying and stats.
	Name() string
	// Supports reports whether this provider can scrape the given platform.
	Supports(platform Platform) bool
	// Scrape fetches engagement metrics for a single post.
	Scrape(ctx context.Context, url string, platform Platform) (*Metrics, error)
}
