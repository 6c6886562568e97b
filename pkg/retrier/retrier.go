// Package retrier wraps transient exchange and database calls in
// exponential backoff with jitter.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultBase     = 500 * time.Millisecond
	defaultCap      = 10 * time.Second
	defaultFactor   = 2.0
	defaultAttempts = 3
	defaultJitter   = 0.1
)

// Retrier retries a failing call a bounded number of times, sleeping an
// exponentially growing, jittered interval between attempts.
type Retrier struct {
	base     time.Duration
	cap      time.Duration
	factor   float64
	attempts int
	jitter   float64
}

type Option func(*Retrier)

// WithBaseInterval sets the sleep before the first retry.
func WithBaseInterval(d time.Duration) Option {
	return func(r *Retrier) { r.base = d }
}

// WithMaxInterval caps the backoff interval.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.cap = d }
}

// WithAttempts sets how many retries follow the initial call.
func WithAttempts(n int) Option {
	return func(r *Retrier) { r.attempts = n }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		base:     defaultBase,
		cap:      defaultCap,
		factor:   defaultFactor,
		attempts: defaultAttempts,
		jitter:   defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, retries are exhausted, or the context is
// cancelled. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.base

	for attempt := 0; attempt <= r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.sleep(interval)):
			}

			interval = time.Duration(float64(interval) * r.factor)
			if interval > r.cap {
				interval = r.cap
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
	}

	return err
}

func (r *Retrier) sleep(interval time.Duration) time.Duration {
	jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
	d := time.Duration(float64(interval) + jitter)
	if d < 0 {
		return 0
	}
	return d
}

// DoWithData is Do for calls that return a value alongside the error.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
