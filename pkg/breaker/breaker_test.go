package breaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/breaker"
)

var _ = Describe("Breaker", func() {
	const (
		threshold    = 3
		resetTimeout = 50 * time.Millisecond
	)

	var (
		b      *breaker.Breaker
		logger *logrus.Logger
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		b = breaker.New("testprovider", threshold, resetTimeout, logger)
	})

	It("starts closed with a zero failure count", func() {
		snap := b.Snapshot()
		Expect(snap.State).To(Equal(breaker.StateClosed))
		Expect(snap.ConsecutiveFailures).To(Equal(0))
		Expect(b.Allow()).To(Succeed())
	})

	It("opens after exactly the threshold of consecutive failures", func() {
		for i := 0; i < threshold-1; i++ {
			Expect(b.Allow()).To(Succeed())
			b.RecordFailure()
			Expect(b.Snapshot().State).To(Equal(breaker.StateClosed))
		}

		Expect(b.Allow()).To(Succeed())
		b.RecordFailure()

		snap := b.Snapshot()
		Expect(snap.State).To(Equal(breaker.StateOpen))
		Expect(snap.ConsecutiveFailures).To(Equal(threshold))
		Expect(snap.NextAttemptTime).To(BeTemporally(">", time.Now()))
	})

	It("rejects calls locally while open", func() {
		for i := 0; i < threshold; i++ {
			b.RecordFailure()
		}

		err := b.Allow()
		Expect(err).To(HaveOccurred())
		Expect(breaker.IsOpenError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("circuit open for provider testprovider"))
	})

	It("resets the failure count on any success", func() {
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
		Expect(b.Snapshot().ConsecutiveFailures).To(Equal(0))

		// A fresh run of failures is needed to open it again.
		b.RecordFailure()
		b.RecordFailure()
		Expect(b.Snapshot().State).To(Equal(breaker.StateClosed))
	})

	Context("after the reset timeout elapses", func() {
		BeforeEach(func() {
			for i := 0; i < threshold; i++ {
				b.RecordFailure()
			}
			Expect(b.Snapshot().State).To(Equal(breaker.StateOpen))
			time.Sleep(resetTimeout + 10*time.Millisecond)
		})

		It("admits a single trial call", func() {
			Expect(b.Allow()).To(Succeed())
			Expect(b.Snapshot().State).To(Equal(breaker.StateHalfOpen))

			// Concurrent callers are rejected while the trial is in flight.
			Expect(breaker.IsOpenError(b.Allow())).To(BeTrue())
		})

		It("closes on a successful trial and resets the failure count", func() {
			Expect(b.Allow()).To(Succeed())
			b.RecordSuccess()

			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateClosed))
			Expect(snap.ConsecutiveFailures).To(Equal(0))
			Expect(b.Allow()).To(Succeed())
		})

		It("reopens on a failed trial with the failure count held at the threshold", func() {
			Expect(b.Allow()).To(Succeed())
			b.RecordFailure()

			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateOpen))
			Expect(snap.ConsecutiveFailures).To(Equal(threshold))
			Expect(snap.NextAttemptTime).To(BeTemporally(">", time.Now()))
			Expect(breaker.IsOpenError(b.Allow())).To(BeTrue())
		})
	})

	Describe("Reset", func() {
		It("forces an open breaker back to closed", func() {
			for i := 0; i < threshold; i++ {
				b.RecordFailure()
			}
			Expect(b.Snapshot().State).To(Equal(breaker.StateOpen))

			b.Reset()

			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateClosed))
			Expect(snap.ConsecutiveFailures).To(Equal(0))
			Expect(b.Allow()).To(Succeed())
		})
	})

	It("is safe under concurrent use", func() {
		done := make(chan struct{})
		for i := 0; i < 10; i++ {
			go func() {
				defer GinkgoRecover()
				for j := 0; j < 100; j++ {
					if err := b.Allow(); err == nil {
						if j%2 == 0 {
							b.RecordFailure()
						} else {
							b.RecordSuccess()
						}
					}
				}
				done <- struct{}{}
			}()
		}
		for i := 0; i < 10; i++ {
			Eventually(done).Should(Receive())
		}
	})
})
