// Package memerr defines the error taxonomy shared across the memory core.
package memerr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for memory operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested memory, relationship or session
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOwnerMismatch indicates an attempt to read or mutate a memory
	// outside the caller's owner scope. Surfaced distinctly from a generic
	// forbidden so callers can tell scoping problems from auth problems.
	ErrOwnerMismatch = errors.New("owner scope mismatch")

	// ErrValidation indicates malformed client input (empty content,
	// out-of-range weight, missing scope).
	ErrValidation = errors.New("validation failed")

	// ErrStoreInconsistency indicates a dual-store write could not be
	// completed and compensation has already run. Never retried
	// automatically; any further retry is the caller's explicit choice.
	ErrStoreInconsistency = errors.New("store inconsistency")

	// ErrLedgerClosed indicates an append to the history ledger of a
	// deleted memory.
	ErrLedgerClosed = errors.New("ledger closed")

	// ErrEmbeddingUnavailable indicates the embedding provider failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// RateLimitedError is returned when the admission controller denies an
// operation. It carries the wait until the next token is available.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds reports the wait rounded up to whole seconds, never
// less than 1 so clients always receive a positive Retry-After.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter.Seconds())
	if e.RetryAfter > time.Duration(secs)*time.Second || secs < 1 {
		secs++
	}
	return secs
}

// Validationf builds a validation error with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsRateLimited reports whether err is a rate-limit denial and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
