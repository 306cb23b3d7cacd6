package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrFetch               = errors.New("fetch failed")
	ErrInvalidPostURL      = errors.New("invalid post url")
	ErrEmptyThread         = errors.New("post empty or inaccessible")
	ErrUnexpectedShape     = errors.New("unexpected listing shape")
	ErrIdentitiesExhausted = errors.New("identity pool exhausted")
	ErrNoIdentities        = errors.New("identity pool is empty")
	ErrInvalidRequest      = errors.New("invalid parse request")
)

// FetchError reports a failed thread retrieval. Last carries the diagnostic of
// the final attempt.
type FetchError struct {
	URL      string
	Attempts int
	Last     string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Last == "" {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s): %s", e.URL, e.Err, e.Attempts, e.Last)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
