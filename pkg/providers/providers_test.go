package providers_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pulsetrack/scraper-go/pkg/providers"
)

var _ = Describe("Metrics", func() {
	Describe("ComputeEngagementRate", func() {
		It("derives the rate from the raw counts", func() {
			m := &providers.Metrics{Views: 2000, Likes: 150, Comments: 30, Shares: 20}
			m.ComputeEngagementRate()
			// (150 + 30 + 20) / 2000 * 100
			Expect(m.EngagementRate).To(BeNumerically("~", 10.0, 1e-9))
		})

		It("keeps a provider-supplied rate", func() {
			m := &providers.Metrics{Views: 2000, Likes: 150, EngagementRate: 3.5}
			m.ComputeEngagementRate()
			Expect(m.EngagementRate).To(Equal(3.5))
		})

		It("leaves the rate at zero when there are no views", func() {
			m := &providers.Metrics{Likes: 150, Comments: 30}
			m.ComputeEngagementRate()
			Expect(m.EngagementRate).To(BeZero())
		})
	})
})

var _ = Describe("ScrapeError", func() {
	It("prefixes the message with the provider name", func() {
		err := providers.NewScrapeError("apify", "post not found", nil)
		Expect(err.Error()).To(Equal("apify: post not found"))
	})

	It("unwraps to the underlying error", func() {
		cause := errors.New("connection reset")
		err := providers.NewScrapeError("apify", "network error", cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})

	It("is extractable from a wrapped chain", func() {
		inner := providers.NewScrapeError("scrapecreators", "invalid url", nil)
		wrapped := fmt.Errorf("scrape failed: %w", inner)

		extracted, ok := providers.AsScrapeError(wrapped)
		Expect(ok).To(BeTrue())
		Expect(extracted.Provider).To(Equal("scrapecreators"))
		Expect(extracted.Message).To(Equal("invalid url"))
	})

	It("reports absence from a plain error", func() {
		_, ok := providers.AsScrapeError(errors.New("boom"))
		Expect(ok).To(BeFalse())
	})
})
