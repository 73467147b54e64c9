// Package retry provides retry with exponential backoff and jitter for
// generative oracle calls.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries      int              // Retries after the first attempt
	InitialDelay    time.Duration    // Initial delay between retries
	MaxDelay        time.Duration    // Maximum delay between retries
	Multiplier      float64          // Backoff multiplier
	RandomizeFactor float64          // Jitter factor (0-1)
	RetryIf         func(error) bool // Predicate deciding whether to retry
}

// DefaultConfig returns the default retry configuration used for
// oracle calls: at most two retries with exponential backoff.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      2,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
	}
}

// Operation is a retryable operation.
type Operation func(ctx context.Context) error

// Result contains the outcome of a retried operation.
type Result struct {
	Attempts int
	Duration time.Duration
	Err      error
}

// Retrier executes operations with backoff.
type Retrier struct {
	config *Config
}

// New creates a retrier, normalizing any out-of-range settings.
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.RandomizeFactor < 0 {
		config.RandomizeFactor = 0
	} else if config.RandomizeFactor > 1 {
		config.RandomizeFactor = 1
	}
	return &Retrier{config: config}
}

// Do executes op, retrying on failure up to MaxRetries additional
// attempts. Context cancellation aborts both the operation and any
// pending backoff delay.
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	result := &Result{}

	var lastErr error
	delay := r.config.InitialDelay

	maxAttempts := r.config.MaxRetries + 1

retryLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("context cancelled: %w", err)
			break
		}

		err := op(ctx)
		if err == nil {
			result.Duration = time.Since(start)
			return result
		}
		lastErr = err

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		select {
		case <-time.After(r.jitter(delay)):
			delay = r.next(delay)
		case <-ctx.Done():
			lastErr = fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			break retryLoop
		}
	}

	result.Duration = time.Since(start)
	result.Err = lastErr
	return result
}

// jitter randomizes the delay within ±RandomizeFactor.
func (r *Retrier) jitter(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}
	delta := float64(delay) * r.config.RandomizeFactor
	return time.Duration(float64(delay) - delta + rand.Float64()*2*delta)
}

// next applies the exponential backoff multiplier, capped at MaxDelay.
func (r *Retrier) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * r.config.Multiplier)
	if n > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return n
}
