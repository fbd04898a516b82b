package providers

import (
	"errors"
	"fmt"
)

// ScrapeError is the error type adapters return for classified failures.
// Message is what the classification layer pattern-matches against, so
// adapters should keep upstream wording ("not found", "429", ...) intact.
type ScrapeError struct {
	Provider string // provider that produced the error
	Message  string // human readable message, used for classification
	Err      error  // underlying error if any
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a ScrapeError for the given provider.
func NewScrapeError(provider, message string, err error) *ScrapeError {
	return &ScrapeError{
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// AsScrapeError extracts a *ScrapeError from an error chain, if present.
func AsScrapeError(err error) (*ScrapeError, bool) {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
