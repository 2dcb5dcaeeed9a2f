package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "installation:1:webhook", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "installation:1:webhook", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)

	other, err := l.Allow(ctx, "installation:2:webhook", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(time.Minute + time.Second)
	d, err = l.Allow(ctx, "installation:1:webhook", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window resets")
}

func TestMemoryLimiter_Capacity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("k%d", i), 1, time.Second)
		require.NoError(t, err)
	}
	_, err := l.Allow(ctx, "k2", 1, time.Second)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	now = now.Add(2 * time.Second)
	_, err = l.Allow(ctx, "k2", 1, time.Second)
	require.NoError(t, err, "expired windows are evicted")
}

func TestMemoryLimiter_DisabledLimit(t *testing.T) {
	d, err := NewMemoryLimiter(MemoryLimiterConfig{}).Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_Validation(t *testing.T) {
	_, err := NewRedisLimiter("", "", 0, nil)
	require.Error(t, err)

	d, err := NewRedisLimiterWithClient(nil, nil).Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, err = NewRedisLimiterWithClient(nil, nil).Allow(context.Background(), "k", 1, time.Second)
	require.Error(t, err)
}
