package usecase

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vitos/token_sniper/internal/domain"
)

// linearBackOff waits base*n before the n-th retry.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// retryRead runs a chain read up to attempts times. Revert-kind errors are
// not retried.
func retryRead[T any](ctx context.Context, base time.Duration, attempts int, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var bo backoff.BackOff = &linearBackOff{base: base}
	bo = backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && domain.IsRevert(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, bo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
