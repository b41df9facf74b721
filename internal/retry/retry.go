// Package retry runs an operation again with exponential backoff while it fails
// with a transient error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"syscall"
	"time"

	"chardevfs/internal/logging"
)

// Default retry configuration constants
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = 250 * time.Millisecond
	DefaultMaxDelay      = 4 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultJitter        = 0.2 // ±20%
)

// Config holds retry configuration
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
		Jitter:        DefaultJitter,
	}
}

// IsTransient reports whether err is worth retrying. A mount point still held by
// a previous instance reports EBUSY until the kernel lets go of it.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}

// fusermountExitPrefix starts the error go-fuse returns when the fusermount helper
// fails. The helper's exit status carries no errno, so a busy mount point cannot be
// told apart from other helper failures.
const fusermountExitPrefix = "fusermount exited with code"

// IsMountRetryable reports whether a failed mount should be attempted again: a
// transient errno from a direct mount, or any fusermount helper failure.
func IsMountRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsTransient(err) || strings.HasPrefix(err.Error(), fusermountExitPrefix)
}

// CalculateDelay computes the delay for the given attempt with jitter
func (c Config) CalculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.BackoffFactor
	}

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	// Apply jitter: ±Jitter%
	if c.Jitter > 0 {
		jitter := delay * c.Jitter * (2*rand.Float64() - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// Do calls op until it succeeds, fails with an error retryable rejects, or the
// retries are used up. A nil retryable means IsTransient.
func Do(ctx context.Context, c Config, name string, retryable func(error) bool, op func() error) error {
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.CalculateDelay(attempt - 1)
			logging.Debugf("Retry attempt %d/%d after %v for %s: %v",
				attempt, c.MaxRetries, delay, name, lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
