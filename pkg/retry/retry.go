// Package retry repeats transfers which fail transiently.
//
// A function opts into retrying by returning an error wrapping ErrRetry
// (see Transient). Any other error, or success, stops the loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrRetry = errors.New("retry")

// ErrExhausted is returned by a Limited backoff when no attempt is left.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Transient marks err as retryable. Transient(nil) is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetry, err)
}

// Backoff is a (blocking) function returns when to retry.
//
// If context is canceled, Backoff should return ctx.Err().
// Backoff returns nil if caller may retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff waits `initialInterval * r^N` for the N-th call.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(int64(float64(interval) * r))
			return nil
		}
	}
}

// Limited allows at most `retries` waits of b, then returns ErrExhausted.
func Limited(retries int, b Backoff) Backoff {
	left := retries
	return func(ctx context.Context) error {
		if left <= 0 {
			return ErrExhausted
		}
		left -= 1
		return b(ctx)
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// The first call happens immediately; b is consulted before each retry.
// When b refuses to retry, the last error of f is returned joined with
// the reason of refusal.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil {
			return last, nil
		}
		if !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, errors.Join(err, berr)
		}
	}
}

// Attempts runs f at most `attempts` times with b between attempts.
func Attempts(ctx context.Context, attempts int, b Backoff, f func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	_, err := Blocking(ctx, Limited(attempts-1, b), func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}
