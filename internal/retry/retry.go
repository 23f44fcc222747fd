package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

// Policy bounds retries of fallible operations with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func Default() Policy {
	return Policy{MaxAttempts: 5, InitialDelay: 300 * time.Millisecond}
}

// Do retries op only while it fails with a network fault. Any other error
// kind stops the retry loop immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return p.run(ctx, func() error {
		err := op()
		if err == nil {
			return nil
		}
		if boterr.KindOf(err) != boterr.KindNetworkFault {
			return backoff.Permanent(err)
		}
		return err
	})
}

// DoAll retries op on every error up to the attempt cap.
func (p Policy) DoAll(ctx context.Context, op func() error) error {
	return p.run(ctx, op)
}

func (p Policy) run(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = delay
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}
