package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/amaumene/lapis/internal/plugins"
)

// RetryPolicy bounds the attempts made for one fetch, upload or reply
type RetryPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	AttemptTimeout      time.Duration

	// Retryable decides whether a failed attempt may be repeated.
	// Defaults to plugins.IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns 4 attempts spaced by exponential backoff from 2s to 30s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         4,
		InitialInterval:     2 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		AttemptTimeout:      60 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// Gate holds a slot for the duration of one attempt
type Gate func(ctx context.Context) (release func(), err error)

// Do runs op until it succeeds, fails permanently, exhausts MaxAttempts or ctx ends.
// Each attempt gets its own AttemptTimeout. Returns the number of retries consumed.
// notify is called before every retry and may be nil.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, attempt int, next time.Duration)) (int, error) {
	return p.DoGated(ctx, nil, op, notify)
}

// DoGated is Do with every attempt run while holding a slot from gate.
// The slot is waited for under ctx and AttemptTimeout only starts once it is held,
// so queueing behind other jobs never eats into an attempt.
// An attempt that runs out of time is retried whatever op returned.
func (p RetryPolicy) DoGated(ctx context.Context, gate Gate, op func(ctx context.Context) error, notify func(err error, attempt int, next time.Duration)) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = plugins.IsTransient
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		if gate != nil {
			release, err := gate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return backoff.Permanent(err)
			}
			defer release()
		}
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return err
		case !retryable(err):
			return backoff.Permanent(err)
		default:
			return err
		}
	}, p.backOff(ctx), func(err error, next time.Duration) {
		if notify != nil {
			notify(err, attempts, next)
		}
	})

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	return retries, err
}
