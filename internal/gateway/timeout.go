package gateway

import (
	"context"
	"fmt"
	"time"

	"futures-core/internal/model"
)

// Timeout bounds every call on the wrapped gateway with a deadline. A call
// that does not return in time yields ErrTimeout even if the inner gateway
// ignores its context.
type Timeout struct {
	inner Gateway
	d     time.Duration
}

// WithTimeout wraps g. d <= 0 returns g unchanged.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &Timeout{inner: g, d: d}
}

type result[T any] struct {
	v   T
	err error
}

func bounded[T any](ctx context.Context, d time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := call(ctx)
		ch <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, op, d)
		}
		return zero, ctx.Err()
	}
}

func (t *Timeout) Submit(ctx context.Context, dir model.Direction, qty float64, price float64) (Fill, error) {
	return bounded(ctx, t.d, "submit", func(ctx context.Context) (Fill, error) {
		return t.inner.Submit(ctx, dir, qty, price)
	})
}

func (t *Timeout) QueryPosition(ctx context.Context) (float64, error) {
	return bounded(ctx, t.d, "query position", t.inner.QueryPosition)
}

func (t *Timeout) QueryEquity(ctx context.Context) (float64, error) {
	return bounded(ctx, t.d, "query equity", t.inner.QueryEquity)
}

func (t *Timeout) QueryCostBasis(ctx context.Context) (float64, error) {
	return bounded(ctx, t.d, "query cost basis", t.inner.QueryCostBasis)
}
