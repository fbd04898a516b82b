// Package orchestrator turns one (url, platform) pair into one unified
// scrape result by trying configured providers in priority order. Each
// provider call is gated by that provider's circuit breaker and rate
// limiter; failures are classified to decide between returning immediately
// and falling over to the next provider.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pulsetrack/scraper-go/pkg/breaker"
	"github.com/pulsetrack/scraper-go/pkg/providers"
	"github.com/pulsetrack/scraper-go/pkg/retry"
)

// Result is the single unified outcome of one orchestration call. Exactly
// one of Metrics/Err is meaningful; the orchestrator never returns partial
// state.
type Result struct {
	// Success reports whether any provider produced metrics
	Success bool
	// Provider is the name of the serving provider on success
	Provider string
	// Metrics holds the scraped numbers on success
	Metrics *providers.Metrics
	// Err is the classified failure when Success is false
	Err error
	// Class is the retry classification of Err
	Class retry.Class
}

// ErrorMessage returns the human readable failure reason, or "" on success.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Stats holds the observability counters accumulated per provider. Purely
// derived; the circuit breaker is authoritative for control flow.
type Stats struct {
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	AverageResponseTime time.Duration
	ConsecutiveFailures int
}

type registration struct {
	adapter  providers.Adapter
	priority int
	breaker  *breaker.Breaker
	limiter  *rate.Limiter
}

type statsAccumulator struct {
	total         int64
	successful    int64
	failed        int64
	totalDuration time.Duration
	consecutive   int
}

// Config holds the orchestrator construction parameters. The orchestrator
// never reads ambient configuration itself.
type Config struct {
	// FailureThreshold is consecutive failures before a provider's breaker opens
	FailureThreshold int
	// ResetTimeout is how long a breaker stays OPEN before trialing
	ResetTimeout time.Duration
	// RateLimit is requests per minute allowed per provider; 0 disables limiting
	RateLimit int
	// Logger is the configured logrus logger instance
	Logger *logrus.Logger
}

// Orchestrator fans scrape calls out across registered providers. Safe for
// concurrent use by many in-flight tasks.
type Orchestrator struct {
	config    Config
	logger    *logrus.Logger
	providers []*registration

	mu    sync.Mutex
	stats map[string]*statsAccumulator
}

// New creates an Orchestrator with no providers registered.
func New(config Config) *Orchestrator {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Orchestrator{
		config: config,
		logger: config.Logger,
		stats:  make(map[string]*statsAccumulator),
	}
}

// Register adds a provider with the given priority (lower = tried first).
// Registration happens at construction time, before any Scrape call; it is
// not safe to call concurrently with Scrape.
func (o *Orchestrator) Register(adapter providers.Adapter, priority int) {
	var limiter *rate.Limiter
	if o.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.config.RateLimit)), 1)
	}

	o.providers = append(o.providers, &registration{
		adapter:  adapter,
		priority: priority,
		breaker:  breaker.New(adapter.Name(), o.config.FailureThreshold, o.config.ResetTimeout, o.logger),
		limiter:  limiter,
	})

	sort.SliceStable(o.providers, func(i, j int) bool {
		return o.providers[i].priority < o.providers[j].priority
	})

	o.mu.Lock()
	o.stats[adapter.Name()] = &statsAccumulator{}
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"provider": adapter.Name(),
		"priority": priority,
	}).Debug("Registered scrape provider")
}

// Scrape tries each provider supporting the platform in priority order and
// returns exactly one result. A success or a permanent target failure
// returns immediately; provider-level failures fall over to the next
// provider. Retries of transient failures are the caller's concern; the
// queue worker re-queues the owning task with backoff instead of blocking
// here.
func (o *Orchestrator) Scrape(ctx context.Context, url string, platform providers.Platform) Result {
	var (
		attempted []string
		lastErr   error
	)

	for _, reg := range o.providers {
		name := reg.adapter.Name()
		if !reg.adapter.Supports(platform) {
			continue
		}

		if err := reg.breaker.Allow(); err != nil {
			// Local rejection: no network call was made, so this never
			// counts against the provider's statistics.
			o.logger.WithFields(logrus.Fields{
				"provider": name,
				"platform": platform,
			}).Debug("Skipping provider with open circuit")
			attempted = append(attempted, name+" (circuit open)")
			continue
		}

		if reg.limiter != nil {
			if err := reg.limiter.Wait(ctx); err != nil {
				return Result{
					Err:   providers.NewScrapeError(name, fmt.Sprintf("request timeout waiting for rate limiter: %v", err), err),
					Class: retry.ClassRetriable,
				}
			}
		}

		attempted = append(attempted, name)
		start := time.Now()
		metrics, err := o.callAdapter(ctx, reg.adapter, url, platform)
		elapsed := time.Since(start)

		if err == nil {
			reg.breaker.RecordSuccess()
			o.recordStats(name, elapsed, true)

			o.logger.WithFields(logrus.Fields{
				"provider": name,
				"platform": platform,
				"duration": elapsed.String(),
			}).Debug("Provider scrape succeeded")

			return Result{Success: true, Provider: name, Metrics: metrics}
		}

		class := retry.Classify(err)
		o.recordStats(name, elapsed, false)

		// A target that cannot be scraped is not the provider's fault;
		// only provider-level failures feed the breaker.
		if class != retry.ClassPermanentTarget {
			reg.breaker.RecordFailure()
		}

		o.logger.WithFields(logrus.Fields{
			"provider": name,
			"platform": platform,
			"class":    class.String(),
			"error":    err,
		}).Warn("Provider scrape failed")

		if class == retry.ClassPermanentTarget {
			// Trying another provider would not help.
			return Result{Err: err, Class: class}
		}

		lastErr = err
	}

	return o.exhausted(platform, attempted, lastErr)
}

// exhausted builds the failure result when every provider was skipped or
// failed, enumerating what was attempted.
func (o *Orchestrator) exhausted(platform providers.Platform, attempted []string, lastErr error) Result {
	if len(attempted) == 0 {
		err := fmt.Errorf("no provider configured for platform %s", platform)
		return Result{Err: err, Class: retry.ClassPermanentTarget}
	}

	if lastErr == nil {
		// Every candidate was skipped by an open breaker.
		err := fmt.Errorf("all providers unavailable for %s: %s (temporary, circuits open)",
			platform, strings.Join(attempted, ", "))
		return Result{Err: err, Class: retry.ClassRetriable}
	}

	err := fmt.Errorf("all providers failed for %s: tried %s; last error: %w",
		platform, strings.Join(attempted, ", "), lastErr)
	return Result{Err: err, Class: retry.Classify(lastErr)}
}

// callAdapter invokes the provider with a panic guard. A misbehaving
// adapter must not crash an in-flight task; its panic surfaces as a
// retriable-by-default error.
func (o *Orchestrator) callAdapter(ctx context.Context, adapter providers.Adapter, url string, platform providers.Platform) (metrics *providers.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"provider": adapter.Name(),
				"panic":    r,
			}).Error("Provider adapter panicked")
			metrics = nil
			err = providers.NewScrapeError(adapter.Name(), fmt.Sprintf("adapter panic: %v", r), nil)
		}
	}()

	return adapter.Scrape(ctx, url, platform)
}

func (o *Orchestrator) recordStats(provider string, elapsed time.Duration, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	acc, ok := o.stats[provider]
	if !ok {
		acc = &statsAccumulator{}
		o.stats[provider] = acc
	}

	acc.total++
	acc.totalDuration += elapsed
	if success {
		acc.successful++
		acc.consecutive = 0
	} else {
		acc.failed++
		acc.consecutive++
	}
}

// ProviderStats returns a copy of the accumulated per-provider counters.
func (o *Orchestrator) ProviderStats() map[string]Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]Stats, len(o.stats))
	for name, acc := range o.stats {
		s := Stats{
			TotalRequests:       acc.total,
			SuccessfulRequests:  acc.successful,
			FailedRequests:      acc.failed,
			ConsecutiveFailures: acc.consecutive,
		}
		if acc.total > 0 {
			s.AverageResponseTime = acc.totalDuration / time.Duration(acc.total)
		}
		out[name] = s
	}
	return out
}

// BreakerSnapshots returns the current state of every provider's breaker,
// in priority order.
func (o *Orchestrator) BreakerSnapshots() []breaker.Snapshot {
	out := make([]breaker.Snapshot, 0, len(o.providers))
	for _, reg := range o.providers {
		out = append(out, reg.breaker.Snapshot())
	}
	return out
}

// ResetBreakers forces every provider's breaker back to CLOSED. Operator
// escape hatch.
func (o *Orchestrator) ResetBreakers() {
	for _, reg := range o.providers {
		reg.breaker.Reset()
	}
	o.logger.Info("All circuit breakers reset")
}
