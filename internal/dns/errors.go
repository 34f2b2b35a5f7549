package dns

import (
	"errors"
	"fmt"
)

// AuthError means the provider rejected our credentials. Never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// RateLimitedError means the provider is throttling us. Retryable after
// backing off.
type RateLimitedError struct {
	Reason string
}

func (e *RateLimitedError) Error() string {
	return "rate limited: " + e.Reason
}

// TransientError wraps a network or server-side failure that is expected to
// clear on its own. Retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient provider error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError means a record is malformed, either locally or as judged by
// the provider. Never retried; surfaced to the user.
type ValidationError struct {
	Record Record
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %s: %s", e.Record, e.Reason)
}

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var tr *TransientError
	return errors.As(err, &tr)
}
