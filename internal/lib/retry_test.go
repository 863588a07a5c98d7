package lib_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, lib.CalculateBackoff(0, 100, 1000))
	assert.Equal(t, 400*time.Millisecond, lib.CalculateBackoff(2, 100, 1000))
	assert.Equal(t, time.Second, lib.CalculateBackoff(10, 100, 1000), "capped at the maximum")
	assert.Equal(t, 100*time.Millisecond, lib.CalculateBackoff(-1, 100, 1000))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, lib.IsTransientHTTPStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 201, 400, 401, 404, 409} {
		assert.False(t, lib.IsTransientHTTPStatus(status), "status %d", status)
	}
}

func TestExecuteWithRetry(t *testing.T) {
	config := lib.NewRetryConfigFromModel(models.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 1, MaxBackoffMs: 2})
	transient := errors.New("connection reset by peer")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := lib.ExecuteWithRetry(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		}, config, lib.IsNetworkError)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := lib.ExecuteWithRetry(context.Background(), func(context.Context) error {
			calls++
			return transient
		}, config, lib.IsNetworkError)
		assert.ErrorIs(t, err, transient)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		permanent := errors.New("permission denied")
		calls := 0
		err := lib.ExecuteWithRetry(context.Background(), func(context.Context) error {
			calls++
			return permanent
		}, config, lib.IsNetworkError)
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops waiting when cancelled", func(t *testing.T) {
		slow := lib.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 60000, MaxBackoffMs: 60000}
		ctx, cancel := context.WithCancel(context.Background())
		err := lib.ExecuteWithRetry(ctx, func(context.Context) error {
			cancel()
			return transient
		}, slow, lib.IsNetworkError)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, lib.IsNetworkError(nil))
	assert.True(t, lib.IsNetworkError(errors.New("dial tcp 10.0.0.1:443: i/o timeout")))
	assert.True(t, lib.IsNetworkError(context.DeadlineExceeded))
	assert.False(t, lib.IsNetworkError(errors.New("invalid manifest")))
}
