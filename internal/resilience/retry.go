// Package resilience provides the bounded retry policy used for portal requests.
package resilience

import (
	"context"
	"time"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 5

// Policy controls how often an operation is retried. Every error is
// retried; only context cancellation stops early.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times. Negative means no retries.
	MaxRetries int

	// Delay is an optional fixed pause between attempts.
	Delay time.Duration

	// OnFailure is called after every failed attempt with its 1-based number.
	OnFailure func(attempt int, err error)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries}
}

// Attempts returns the maximum number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Result is the outcome of a retried operation.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Run calls fn until it succeeds, the policy is exhausted or ctx is done.
// On failure Result.Err is the last error returned by fn.
func Run[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) Result[T] {
	var res Result[T]
	limit := p.Attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		res.Attempts = attempt
		val, err := fn(ctx, attempt)
		if err == nil {
			res.Value = val
			res.Err = nil
			return res
		}
		res.Err = err

		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}
		if ctx.Err() != nil || attempt == limit {
			return res
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res
			case <-timer.C:
			}
		}
	}
	return res
}
