// Package retry decides whether a scrape failure is worth retrying and how
// long to wait before the next attempt. Classification is pattern-based on
// the error message; the pattern lists live here and nowhere else so they
// can be tuned (or replaced with typed provider error codes) without
// touching orchestration logic.
package retry

import (
	"strings"
	"time"
)

// Class is the retry classification of a scrape failure.
type Class int

const (
	// ClassRetriable marks transient failures: worth retrying with backoff
	// and worth failing over to another provider.
	ClassRetriable Class = iota
	// ClassPermanentTarget marks failures that are attributes of the target
	// itself (deleted, private, unsupported). Neither retrying nor switching
	// providers can fix them.
	ClassPermanentTarget
	// ClassPermanentProvider marks failures that make one provider unusable
	// (missing credentials, exhausted credits). Another provider may still
	// succeed, but retrying the same one will not.
	ClassPermanentProvider
)

// Permanent reports whether the class rules out retrying the same provider.
func (c Class) Permanent() bool {
	return c != ClassRetriable
}

func (c Class) String() string {
	switch c {
	case ClassPermanentTarget:
		return "permanent_target"
	case ClassPermanentProvider:
		return "permanent_provider"
	default:
		return "retriable"
	}
}

// Matched lowercase; keep upstream wording intact when adding entries.
var (
	permanentTargetPatterns = []string{
		"private or deleted",
		"not found",
		"invalid url",
		"unsupported platform",
	}

	permanentProviderPatterns = []string{
		"authentication required",
		"not configured",
		"credit limit",
		"api subscription",
		"paid api access",
	}

	retriablePatterns = []string{
		"timeout",
		"network",
		"connection",
		"econnreset",
		"etimedout",
		"temporary",
		"429",
		"500",
		"502",
		"503",
	}
)

// Classify maps an error to its retry class. Unknown errors are treated
// conservatively as retriable; the attempt cap turns them permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassRetriable
	}

	msg := strings.ToLower(err.Error())

	for _, p := range permanentTargetPatterns {
		if strings.Contains(msg, p) {
			return ClassPermanentTarget
		}
	}
	for _, p := range permanentProviderPatterns {
		if strings.Contains(msg, p) {
			return ClassPermanentProvider
		}
	}
	for _, p := range retriablePatterns {
		if strings.Contains(msg, p) {
			return ClassRetriable
		}
	}

	return ClassRetriable
}

// Default policy values
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1000 * time.Millisecond
)

// Policy holds the retry parameters for task execution.
type Policy struct {
	// MaxAttempts is the total attempt cap per task
	MaxAttempts int
	// BaseDelay is the backoff base for the first retry
	BaseDelay time.Duration
	// MaxDelay caps the backoff when non-zero; zero means uncapped
	MaxDelay time.Duration
}

// DefaultPolicy returns a Policy with the default attempt cap and base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Backoff returns the delay before retry attempt k (0-indexed):
// BaseDelay * 2^k, capped at MaxDelay when one is configured.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether a failure of the given class, observed after
// attempts completed attempts, warrants another try.
func (p Policy) ShouldRetry(class Class, attempts int) bool {
	if class.Permanent() {
		return false
	}
	return attempts < p.MaxAttempts
}
