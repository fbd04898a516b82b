// Package breaker implements a per-provider circuit breaker. A breaker gates
// whether a call to its provider is attempted at all, so a degraded provider
// stops absorbing the concurrency budget with doomed calls.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed lets calls pass through (initial state)
	StateClosed State = "CLOSED"
	// StateOpen rejects calls without touching the provider
	StateOpen State = "OPEN"
	// StateHalfOpen allows exactly one trial call through
	StateHalfOpen State = "HALF_OPEN"
)

// Default breaker parameters
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// OpenError is returned by Allow when the breaker rejects a call locally.
// No network attempt was made; it must never count against the provider's
// failure statistics.
type OpenError struct {
	Provider    string
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s until %s",
		e.Provider, e.NextAttempt.Format(time.RFC3339))
}

// IsOpenError reports whether err is a circuit-open rejection.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

// Snapshot is a point-in-time copy of breaker state for status reporting.
type Snapshot struct {
	Provider            string
	State               State
	ConsecutiveFailures int
	LastFailureTime     time.Time
	NextAttemptTime     time.Time
}

// Breaker tracks consecutive failures for one provider and decides whether
// calls to it may proceed. Safe for concurrent use.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	logger           *logrus.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	nextAttemptTime     time.Time
}

// New creates a closed breaker for the named provider. Non-positive
// threshold or timeout fall back to the defaults.
func New(name string, failureThreshold int, resetTimeout time.Duration, logger *logrus.Logger) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
		state:            StateClosed,
	}
}

// Allow reports whether a call to the provider may proceed. It returns nil
// when the call is allowed and an *OpenError when the breaker rejects it.
//
// An OPEN breaker whose reset timeout has elapsed transitions to HALF_OPEN
// and admits the calling goroutine as the single trial; concurrent callers
// arriving while the trial is in flight are rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		// A trial call is already in flight.
		return &OpenError{Provider: b.name, NextAttempt: b.nextAttemptTime}
	default: // StateOpen
		if time.Now().Before(b.nextAttemptTime) {
			return &OpenError{Provider: b.name, NextAttempt: b.nextAttemptTime}
		}

		b.state = StateHalfOpen
		b.logger.WithFields(logrus.Fields{
			"provider": b.name,
			"state":    b.state,
		}).Info("Circuit breaker trialing provider")
		return nil
	}
}

// RecordSuccess notes a successful provider call. From any state this
// resets the consecutive failure count; a HALF_OPEN trial success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.WithFields(logrus.Fields{
			"provider": b.name,
			"from":     b.state,
			"to":       StateClosed,
		}).Info("Circuit breaker closed after successful call")
	}

	b.state = StateClosed
	b.consecutiveFailures = 0
}

// RecordFailure notes a failed provider call. Reaching the failure threshold
// opens the breaker; a failed HALF_OPEN trial reopens it with a fresh reset
// timeout and the failure count held at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.nextAttemptTime = now.Add(b.resetTimeout)
		b.logger.WithFields(logrus.Fields{
			"provider":     b.name,
			"next_attempt": b.nextAttemptTime,
		}).Warn("Circuit breaker reopened after failed trial")
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.nextAttemptTime = now.Add(b.resetTimeout)
			b.logger.WithFields(logrus.Fields{
				"provider":             b.name,
				"consecutive_failures": b.consecutiveFailures,
				"next_attempt":         b.nextAttemptTime,
			}).Warn("Circuit breaker opened")
		}
	default:
		// Already OPEN; nothing to do.
	}
}

// Reset forces the breaker back to CLOSED with a zero failure count.
// Operator escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed || b.consecutiveFailures > 0 {
		b.logger.WithField("provider", b.name).Info("Circuit breaker reset by operator")
	}

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.nextAttemptTime = time.Time{}
}

// Snapshot returns a copy of the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Provider:            b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
		NextAttemptTime:     b.nextAttemptTime,
	}
}
