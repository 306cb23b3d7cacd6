package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior. Retryable, when set, decides whether
// an error is worth another attempt; errors it rejects are returned at once.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

// backoff returns the pause before attempt n+1 (n counts from 0). The wait
// doubles from InitialWait and is capped at MaxWait.
func (o RetryOpts) backoff(n int) time.Duration {
	if o.InitialWait <= 0 {
		return 0
	}
	d := o.InitialWait << n
	if d <= 0 || d > o.MaxWait {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		if d > o.MaxWait {
			d = o.MaxWait
		}
	}
	return d
}

// Retry calls f until it succeeds, MaxAttempts is reached, the error is not
// retryable, or ctx ends. The last failure is returned.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	var result Result[T]
	for n := 0; n < attempts; n++ {
		result = f(ctx)
		if result.IsOk() || n == attempts-1 {
			return result
		}
		if opts.Retryable != nil && !opts.Retryable(result.err) {
			return result
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}
		t := time.NewTimer(opts.backoff(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return result
}
