package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelhub/reservation-core/internal/clock"
)

type mockRedisCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	ttls    map[string]time.Duration
	incrErr error
}

func newMockRedisCounter() *mockRedisCounter {
	return &mockRedisCounter{
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (m *mockRedisCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return redis.NewIntResult(0, m.incrErr)
	}
	m.counts[key]++
	return redis.NewIntResult(m.counts[key], nil)
}

func (m *mockRedisCounter) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ttls[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedisCounter) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttls[key]
	if !ok {
		return redis.NewDurationResult(-2*time.Millisecond, nil)
	}
	return redis.NewDurationResult(ttl, nil)
}

func TestCheckHoldRateLimit_UnderLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	service := NewRateLimitService(NewMemoryRateCounter(clk), RateLimitConfig{
		MaxHolderRequests: 3,
		HolderWindow:      10 * time.Minute,
		MaxIPRequests:     10,
		IPWindow:          time.Hour,
	})

	for i := 0; i < 3; i++ {
		assert.NoError(t, service.CheckHoldRateLimit(context.Background(), "holder-1", "192.0.2.10"))
	}
}

func TestCheckHoldRateLimit_HolderExceeded(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	service := NewRateLimitService(NewMemoryRateCounter(clk), RateLimitConfig{
		MaxHolderRequests: 2,
		HolderWindow:      10 * time.Minute,
	})

	ctx := context.Background()
	require.NoError(t, service.CheckHoldRateLimit(ctx, "holder-1", ""))
	require.NoError(t, service.CheckHoldRateLimit(ctx, "holder-1", ""))

	err := service.CheckHoldRateLimit(ctx, "holder-1", "")
	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr), "Error should be RateLimitError")
	assert.Equal(t, "holder", rateLimitErr.Type)
	assert.Contains(t, rateLimitErr.Message, "Too many booking attempts for this holder")
	assert.Equal(t, start.Add(10*time.Minute), rateLimitErr.RetryAfter)

	// other holders are unaffected
	assert.NoError(t, service.CheckHoldRateLimit(ctx, "holder-2", ""))

	clk.Advance(10 * time.Minute)
	assert.NoError(t, service.CheckHoldRateLimit(ctx, "holder-1", ""), "window should have reset")
}

func TestCheckHoldRateLimit_IPExceeded(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	service := NewRateLimitService(NewMemoryRateCounter(clk), RateLimitConfig{
		MaxHolderRequests: 100,
		HolderWindow:      time.Minute,
		MaxIPRequests:     2,
		IPWindow:          time.Hour,
	})

	ctx := context.Background()
	require.NoError(t, service.CheckHoldRateLimit(ctx, "holder-1", "198.51.100.7"))
	require.NoError(t, service.CheckHoldRateLimit(ctx, "holder-2", "198.51.100.7"))

	err := service.CheckHoldRateLimit(ctx, "holder-3", "198.51.100.7")
	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "ip", rateLimitErr.Type)
}

func TestCheckHoldRateLimit_Disabled(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	counter := NewMemoryRateCounter(clk)
	service := NewRateLimitService(counter, RateLimitConfig{})

	for i := 0; i < 50; i++ {
		require.NoError(t, service.CheckHoldRateLimit(context.Background(), "holder-1", "192.0.2.1"))
	}
	assert.Zero(t, counter.Len())
}

func TestMemoryRateCounter_Prune(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	counter := NewMemoryRateCounter(clk)
	ctx := context.Background()

	_, _, err := counter.Incr(ctx, "short", time.Minute)
	require.NoError(t, err)
	_, _, err = counter.Incr(ctx, "long", time.Hour)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, counter.Prune())
	assert.Equal(t, 1, counter.Len())
}

func TestRedisRateCounter(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	client := newMockRedisCounter()
	counter := NewRedisRateCounter(client, clock.NewManual(now))
	ctx := context.Background()

	count, resetAt, err := counter.Incr(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, now.Add(5*time.Minute), resetAt)

	count, _, err = counter.Incr(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	t.Run("incr error", func(t *testing.T) {
		client.incrErr = errors.New("connection refused")
		service := NewRateLimitService(counter, RateLimitConfig{MaxHolderRequests: 1, HolderWindow: time.Minute})
		err := service.CheckHoldRateLimit(ctx, "holder-1", "")
		require.Error(t, err)
		var rateLimitErr *RateLimitError
		assert.False(t, errors.As(err, &rateLimitErr))
		assert.Contains(t, err.Error(), "failed to check holder rate limit")
	})
}
