// Package retry runs remote calls under an exponential backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures how often and how fast a failed call is retried. The
// zero value performs a single attempt.
type Policy struct {
	MaxAttempts     int           `default:"1" usage:"Total attempts per remote call (1 disables retries)"`
	InitialInterval time.Duration `default:"200ms" usage:"Delay before the first retry" flag:"initial-interval"`
	MaxInterval     time.Duration `default:"5s" usage:"Upper bound for a single retry delay" flag:"max-interval"`
}

// Do calls fn until it succeeds, the attempts are exhausted, fn returns an
// error wrapped with Permanent, or ctx is done. The attempt number (starting
// at 1) is passed to fn. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return fn(ctx, attempt)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
