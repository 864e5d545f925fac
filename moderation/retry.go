package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/sol-ai/modagent/ledger"

	"github.com/cenkalti/backoff/v4"
)

// Fixed-delay retry for a single ledger call.
type RetryPolicy struct {
	// total attempts, including the first
	Attempts int
	Delay    time.Duration
}

var DefaultReadRetry = RetryPolicy{Attempts: 3, Delay: 2 * time.Second}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(retries)), ctx)
}

// Runs op until it succeeds, fails permanently (see ledger.IsPermanent), the
// attempts are used up, or ctx is done. Returns the last error.
func retryValue[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, what string, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		if err != nil && ledger.IsPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy.backoff(ctx), func(err error, wait time.Duration) {
		logger.Warn("ledger call failed, retrying", "op", what, "err", err, "wait", wait)
	})
}
