// Package retry provides a bounded retry helper with exponential back-off
// and explicit transient-error classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// Classify reports whether an error is transient and worth retrying.
type Classify func(error) bool

// Permanent wraps an error so Do stops retrying immediately.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// WrapPermanent marks err so Do stops retrying immediately.
func WrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Transient is the default classifier: network errors and timeouts retry,
// anything marked Permanent does not, everything else retries.
func Transient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// Do runs fn up to attempts times, sleeping initialDelay * 2^(n-1) between
// failures. classify decides whether a failure is retryable; nil means
// Transient. The context aborts waits between attempts.
func Do(ctx context.Context, attempts int, initialDelay time.Duration, classify Classify, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if classify == nil {
		classify = Transient
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) || attempt == attempts {
			break
		}

		delay := time.Duration(float64(initialDelay) * math.Pow(2, float64(attempt-1)))
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
