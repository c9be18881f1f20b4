// Package retry runs an operation with bounded retries and exponential
// backoff. Only recoverable errors are retried; see IsRecoverable.
package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 250 * time.Millisecond
	DefaultMaxWait    = 10 * time.Second
)

type config struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
}

// Option configures a Do call.
type Option func(*config)

// WithMaxRetries bounds the number of retries after the first attempt. Zero
// means the operation runs exactly once.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Subsequent waits
// double, capped by WithMaxWait.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the backoff wait.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// Do invokes fn until it succeeds, returns an unrecoverable error, or the
// retry budget is exhausted. The last error is returned as-is.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	cfg := config{
		maxRetries: DefaultMaxRetries,
		baseWait:   DefaultBaseWait,
		maxWait:    DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.maxRetries || !IsRecoverable(err) {
			return err
		}
		if waitErr := wait(ctx, backoff(cfg, attempt)); waitErr != nil {
			return err
		}
	}
}

// backoff doubles the base wait per attempt with jitter, capped at maxWait.
func backoff(cfg config, attempt int) time.Duration {
	d := cfg.baseWait << attempt
	if d > cfg.maxWait || d <= 0 {
		d = cfg.maxWait
	}
	// Jitter up to half the wait to spread concurrent retriers
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
