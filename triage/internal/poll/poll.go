// Package poll waits for asynchronously rendered UI with a bounded number
// of attempts at a fixed interval. The budget is counted in attempts, not
// wall-clock time.
package poll

import (
	"context"
	"time"
)

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy bounds a poll loop.
type Policy struct {
	Attempts int
	Interval time.Duration
	// Sleep defaults to the real-time Sleep when nil.
	Sleep Sleeper
}

func (p Policy) sleeper() Sleeper {
	if p.Sleep != nil {
		return p.Sleep
	}
	return Sleep
}

// Poll calls produce until it returns a non-empty slice or the attempt
// budget is spent. produce is invoked at most p.Attempts times (at least
// once) and there is no sleep after the last attempt. Exhaustion returns
// nil, not an error.
func Poll[T any](ctx context.Context, p Policy, produce func() []T) []T {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleeper()
	for i := 0; i < attempts; i++ {
		if out := produce(); len(out) > 0 {
			return out
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return nil
		}
	}
	return nil
}

// First polls a single-value producer; ok is false on exhaustion.
func First[T any](ctx context.Context, p Policy, produce func() (T, bool)) (T, bool) {
	out := Poll(ctx, p, func() []T {
		if v, ok := produce(); ok {
			return []T{v}
		}
		return nil
	})
	if len(out) == 0 {
		var zero T
		return zero, false
	}
	return out[0], true
}

// NoSleep is a Sleeper that returns immediately. Tests use it to run
// polls without waiting.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
