package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiter_RejectsAfterLimit(t *testing.T) {
	limiter := NewLocalRateLimiter()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "withdrawal_request", "A", 3, time.Hour)
		require.NoError(t, err)
		assert.LessOrEqual(t, count, 3)
		assert.Zero(t, retryAfter)
	}

	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "withdrawal_request", "A", 3, time.Hour)
	require.NoError(t, err)
	assert.Greater(t, count, 3)
	assert.Equal(t, 1200, retryAfter)

	// Another subject has its own bucket.
	count, _, err = limiter.ConsumeRateLimit(ctx, "withdrawal_request", "B", 3, time.Hour)
	require.NoError(t, err)
	assert.LessOrEqual(t, count, 3)
}

func TestLocalRateLimiter_RefillsOverTime(t *testing.T) {
	limiter := NewLocalRateLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, err := limiter.ConsumeRateLimit(ctx, "s", "A", 1, time.Minute)
	require.NoError(t, err)
	count, _, err := limiter.ConsumeRateLimit(ctx, "s", "A", 1, time.Minute)
	require.NoError(t, err)
	assert.Greater(t, count, 1)

	now = now.Add(time.Minute)
	count, _, err = limiter.ConsumeRateLimit(ctx, "s", "A", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRateLimiters_DisabledLimitAllows(t *testing.T) {
	ctx := context.Background()

	count, retryAfter, err := NewLocalRateLimiter().ConsumeRateLimit(ctx, "s", "A", 0, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retryAfter)

	count, _, err = NewRedisRateLimiter(nil, "").ConsumeRateLimit(ctx, "s", "A", 5, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count)
}
