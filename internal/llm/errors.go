package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured indicates no provider credential was available for the
// call. Surfaced before any provider request is attempted.
var ErrNotConfigured = errors.New("AI provider not configured")

// ErrorKind classifies why an invocation was given up on.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts, and rate limiting.
	KindTransient ErrorKind = iota
	// KindFormat covers responses that were not valid JSON or lacked a
	// required field.
	KindFormat
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFormat:
		return "format"
	}
	return "unknown"
}

// InvokeError is returned when the retry budget is exhausted. RetryAfter is a
// hint from the provider (zero when none was supplied).
type InvokeError struct {
	Kind       ErrorKind
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("provider %s error after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// transportError tags a provider transport failure with retryability and an
// optional retry-after hint. Internal to the client; InvokeJSON folds it into
// the classified InvokeError.
type transportError struct {
	retryable  bool
	retryAfter time.Duration
	err        error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
