package orchestrator_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/breaker"
	"github.com/pulsetrack/scraper-go/pkg/orchestrator"
	"github.com/pulsetrack/scraper-go/pkg/providers"
	"github.com/pulsetrack/scraper-go/pkg/retry"
)

// stubAdapter returns scripted outcomes and counts its calls.
type stubAdapter struct {
	name     string
	platform providers.Platform
	calls    int64
	scrape   func(call int64) (*providers.Metrics, error)
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Supports(platform providers.Platform) bool {
	return s.platform == "" || s.platform == platform
}

func (s *stubAdapter) Scrape(ctx context.Context, url string, platform providers.Platform) (*providers.Metrics, error) {
	call := atomic.AddInt64(&s.calls, 1)
	return s.scrape(call)
}

func succeeding(name string) *stubAdapter {
	return &stubAdapter{
		name: name,
		scrape: func(int64) (*providers.Metrics, error) {
			return &providers.Metrics{Views: 1000, Likes: 50, Comments: 5, Shares: 10}, nil
		},
	}
}

func failing(name, message string) *stubAdapter {
	return &stubAdapter{
		name: name,
		scrape: func(int64) (*providers.Metrics, error) {
			return nil, providers.NewScrapeError(name, message, nil)
		},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		orch   *orchestrator.Orchestrator
		logger *logrus.Logger
		ctx    context.Context
	)

	newOrchestrator := func(threshold int) *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Config{
			FailureThreshold: threshold,
			ResetTimeout:     time.Minute,
			Logger:           logger,
		})
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		ctx = context.Background()
		orch = newOrchestrator(5)
	})

	Describe("fallback ordering", func() {
		It("returns the first provider's success without trying the rest", func() {
			primary := succeeding("primary")
			secondary := succeeding("secondary")
			orch.Register(primary, 1)
			orch.Register(secondary, 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeTrue())
			Expect(result.Provider).To(Equal("primary"))
			Expect(primary.calls).To(Equal(int64(1)))
			Expect(secondary.calls).To(BeZero())
		})

		It("falls over to the next provider on a retriable failure", func() {
			primary := failing("primary", "unexpected status code: 503")
			secondary := succeeding("secondary")
			orch.Register(primary, 1)
			orch.Register(secondary, 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeTrue())
			Expect(result.Provider).To(Equal("secondary"))
			Expect(result.Metrics.Views).To(Equal(int64(1000)))

			// The primary's failure is recorded but not surfaced.
			stats := orch.ProviderStats()
			Expect(stats["primary"].FailedRequests).To(Equal(int64(1)))
			Expect(stats["secondary"].SuccessfulRequests).To(Equal(int64(1)))
		})

		It("respects priority over registration order", func() {
			secondary := succeeding("secondary")
			primary := succeeding("primary")
			orch.Register(secondary, 2)
			orch.Register(primary, 1)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)
			Expect(result.Provider).To(Equal("primary"))
		})

		It("falls over on a permanent provider failure without retrying it", func() {
			primary := failing("primary", "credit limit exceeded")
			secondary := succeeding("secondary")
			orch.Register(primary, 1)
			orch.Register(secondary, 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeTrue())
			Expect(result.Provider).To(Equal("secondary"))
			Expect(primary.calls).To(Equal(int64(1)))
		})
	})

	Describe("permanent target failures", func() {
		It("returns immediately without trying other providers", func() {
			primary := failing("primary", "post is private or deleted")
			secondary := succeeding("secondary")
			orch.Register(primary, 1)
			orch.Register(secondary, 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeFalse())
			Expect(result.Class).To(Equal(retry.ClassPermanentTarget))
			Expect(result.ErrorMessage()).To(ContainSubstring("private or deleted"))
			Expect(secondary.calls).To(BeZero())
		})

		It("does not count target failures against the provider's breaker", func() {
			orch = newOrchestrator(2)
			primary := failing("primary", "post not found")
			orch.Register(primary, 1)

			for i := 0; i < 5; i++ {
				orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)
			}

			snaps := orch.BreakerSnapshots()
			Expect(snaps).To(HaveLen(1))
			Expect(snaps[0].State).To(Equal(breaker.StateClosed))
			Expect(primary.calls).To(Equal(int64(5)))
		})
	})

	Describe("circuit breaking", func() {
		It("opens the breaker and stops calling a failing provider", func() {
			orch = newOrchestrator(2)
			primary := failing("primary", "network error: connection refused")
			secondary := succeeding("secondary")
			orch.Register(primary, 1)
			orch.Register(secondary, 2)

			for i := 0; i < 4; i++ {
				result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)
				Expect(result.Success).To(BeTrue())
				Expect(result.Provider).To(Equal("secondary"))
			}

			// Two failures opened the breaker; the later calls were
			// rejected locally without reaching the adapter.
			Expect(primary.calls).To(Equal(int64(2)))
			Expect(orch.BreakerSnapshots()[0].State).To(Equal(breaker.StateOpen))

			// Local rejections never count as provider requests.
			Expect(orch.ProviderStats()["primary"].TotalRequests).To(Equal(int64(2)))
		})

		It("resumes using a provider after an operator reset", func() {
			orch = newOrchestrator(1)
			calls := int64(0)
			flaky := &stubAdapter{
				name: "flaky",
				scrape: func(call int64) (*providers.Metrics, error) {
					atomic.AddInt64(&calls, 1)
					if call == 1 {
						return nil, providers.NewScrapeError("flaky", "request timeout", nil)
					}
					return &providers.Metrics{Views: 7}, nil
				},
			}
			orch.Register(flaky, 1)

			Expect(orch.Scrape(ctx, "u", providers.PlatformTikTok).Success).To(BeFalse())
			Expect(orch.BreakerSnapshots()[0].State).To(Equal(breaker.StateOpen))

			orch.ResetBreakers()

			result := orch.Scrape(ctx, "u", providers.PlatformTikTok)
			Expect(result.Success).To(BeTrue())
			Expect(result.Metrics.Views).To(Equal(int64(7)))
		})
	})

	Describe("exhaustion", func() {
		It("enumerates every attempted provider and keeps the last error", func() {
			orch.Register(failing("primary", "unexpected status code: 502"), 1)
			orch.Register(failing("secondary", "request timeout"), 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeFalse())
			Expect(result.Class).To(Equal(retry.ClassRetriable))
			Expect(result.ErrorMessage()).To(ContainSubstring("primary"))
			Expect(result.ErrorMessage()).To(ContainSubstring("secondary"))
			Expect(result.ErrorMessage()).To(ContainSubstring("request timeout"))
		})

		It("fails permanently when no provider supports the platform", func() {
			adapter := succeeding("primary")
			adapter.platform = providers.PlatformTikTok
			orch.Register(adapter, 1)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformTwitter)

			Expect(result.Success).To(BeFalse())
			Expect(result.Class).To(Equal(retry.ClassPermanentTarget))
			Expect(adapter.calls).To(BeZero())
		})
	})

	Describe("misbehaving adapters", func() {
		It("turns an adapter panic into a retriable failure", func() {
			panicky := &stubAdapter{
				name: "panicky",
				scrape: func(int64) (*providers.Metrics, error) {
					panic("malformed response")
				},
			}
			orch.Register(panicky, 1)
			orch.Register(succeeding("secondary"), 2)

			result := orch.Scrape(ctx, "https://example.com/p/1", providers.PlatformInstagram)

			Expect(result.Success).To(BeTrue())
			Expect(result.Provider).To(Equal("secondary"))
		})
	})

	Describe("provider stats", func() {
		It("accumulates totals and average response time", func() {
			orch.Register(succeeding("primary"), 1)

			for i := 0; i < 3; i++ {
				Expect(orch.Scrape(ctx, "u", providers.PlatformInstagram).Success).To(BeTrue())
			}

			stats := orch.ProviderStats()["primary"]
			Expect(stats.TotalRequests).To(Equal(int64(3)))
			Expect(stats.SuccessfulRequests).To(Equal(int64(3)))
			Expect(stats.FailedRequests).To(BeZero())
			Expect(stats.ConsecutiveFailures).To(BeZero())
			Expect(stats.AverageResponseTime).To(BeNumerically(">=", 0))
		})
	})
})
