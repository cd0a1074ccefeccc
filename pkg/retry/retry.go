// Package retry implements the bounded exponential backoff used for the
// framework's remote calls: synchronization batch uploads and lifecycle
// event posts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config describes a backoff schedule. The delay before retry n is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay, with up to 25%
// added jitter when AddJitter is set.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool
}

// DefaultConfig returns the schedule used when a caller does not pick one.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Uploads returns a schedule tuned for synchronization batch uploads,
// where the remote service throttles aggressively under load.
func Uploads() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Events returns a schedule for lifecycle event posts. Events are dropped
// after the final attempt, so the schedule stays short to keep the queue
// draining.
func Events() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// delayFor computes the delay preceding retry number n (1-based). The
// cap is applied before jitter so a jittered delay may exceed MaxDelay by
// at most a quarter.
func (c Config) delayFor(n int) time.Duration {
	backoff := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(n-1))

	delay := c.MaxDelay
	if backoff < float64(c.MaxDelay) {
		delay = time.Duration(backoff)
	}
	if c.AddJitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay/4) + 1))
	}
	return delay
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do gives up immediately instead of running out
// the schedule. Used for failures that cannot succeed on retry, such as
// rejected request payloads.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn until it returns nil, the schedule is exhausted, the error
// is permanent, or ctx ends during a backoff wait. Zero-valued Config
// fields are clamped to usable values rather than rejected.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxAttempts, err)
		}
		if waitErr := sleep(ctx, cfg.delayFor(attempt)); waitErr != nil {
			return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, waitErr)
		}
	}
}

// sleep waits for d or until ctx ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
