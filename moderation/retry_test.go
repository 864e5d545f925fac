package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/sol-ai/modagent/ledger"

	"github.com/stretchr/testify/assert"
)

func TestRetryValue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	logger := slog.Default()

	calls := 0
	v, err := retryValue(ctx, policy, logger, "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	assert.NoError(err)
	assert.Equal(42, v)
	assert.Equal(3, calls)

	calls = 0
	_, err = retryValue(ctx, policy, logger, "test", func() (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: connection refused", calls)
	})
	assert.EqualError(err, "attempt 3: connection refused")
	assert.Equal(3, calls)

	// reverts are not retried
	calls = 0
	_, err = retryValue(ctx, policy, logger, "test", func() (int, error) {
		calls++
		return 0, errors.New("execution reverted: Post already flagged")
	})
	assert.True(ledger.IsAlreadyFlagged(err))
	assert.Equal(1, calls)

	calls = 0
	_, err = retryValue(ctx, RetryPolicy{Attempts: 1}, logger, "test", func() (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	assert.Error(err)
	assert.Equal(1, calls)
}

func TestRetryValueCancelled(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryValue(ctx, RetryPolicy{Attempts: 5, Delay: time.Second}, slog.Default(), "test", func() (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	assert.Error(err)
	assert.LessOrEqual(calls, 1)
}
