// Package retry implements the bounded exponential-backoff-with-jitter
// retry loop the trade consumer (internal/consumer) wraps its durable
// writes in, per spec §4.8: "failures are retried with exponential
// backoff (capped); after the cap the event is sent to a dead-letter
// partition". Adapted from the teacher's internal/architecture/retry.go,
// trimmed of the generic RetryableErrors predicate (the consumer always
// wants to retry a write failure) and the fallback-function variant
// (unused here).
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAborted is returned when ctx is cancelled while waiting out a
// backoff interval between attempts.
var ErrAborted = errors.New("retry: aborted by context cancellation")

// Options configures the backoff schedule.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64 // 0.0-1.0
}

// DefaultOptions matches the consumer's dead-letter cap: a handful of
// attempts over a few seconds before giving up on an event.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.2,
	}
}

// Do runs fn, retrying on a non-nil error up to opts.MaxAttempts times
// total, waiting an exponentially growing, jittered backoff between
// attempts. It returns the last error once attempts are exhausted, or
// ErrAborted if ctx is cancelled mid-wait.
func Do(ctx context.Context, opts Options, fn func() error) error {
	var err error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == opts.MaxAttempts-1 {
			return err
		}

		backoff := calculateBackoff(attempt, opts)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ErrAborted
		}
	}
	return err
}

func calculateBackoff(attempt int, opts Options) time.Duration {
	backoff := float64(opts.InitialBackoff) * math.Pow(opts.BackoffFactor, float64(attempt))
	if backoff > float64(opts.MaxBackoff) {
		backoff = float64(opts.MaxBackoff)
	}
	if opts.Jitter > 0 {
		jitter := opts.Jitter * backoff
		backoff = backoff - (jitter / 2) + (rand.Float64() * jitter)
	}
	return time.Duration(backoff)
}
