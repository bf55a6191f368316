package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/travelhub/reservation-core/internal/clock"
)

// RateCounter counts events for a key within a fixed window.
// Incr returns the count including this event and when the window resets.
type RateCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// RateLimitConfig holds hold acquisition limits
type RateLimitConfig struct {
	MaxHolderRequests int           // Max hold attempts per holder
	HolderWindow      time.Duration // Time window for holder rate limit
	MaxIPRequests     int           // Max hold attempts per client IP
	IPWindow          time.Duration // Time window for IP rate limit
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxHolderRequests: 10,               // 10 attempts
		HolderWindow:      10 * time.Minute, // per 10 minutes
		MaxIPRequests:     30,               // 30 attempts
		IPWindow:          time.Hour,        // per hour
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "holder" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// RateLimitService caps how often one holder or one client IP can start bookings
type RateLimitService struct {
	counter RateCounter
	config  RateLimitConfig
}

// NewRateLimitService creates a new rate limit service. Limits of zero disable that check.
func NewRateLimitService(counter RateCounter, config RateLimitConfig) *RateLimitService {
	return &RateLimitService{
		counter: counter,
		config:  config,
	}
}

// CheckHoldRateLimit records a hold attempt and fails with *RateLimitError when
// the holder or the IP is over its limit.
func (s *RateLimitService) CheckHoldRateLimit(ctx context.Context, holderID, ip string) error {
	if holderID != "" && s.config.MaxHolderRequests > 0 {
		if err := s.check(ctx, "holder", holderID, s.config.MaxHolderRequests, s.config.HolderWindow); err != nil {
			return err
		}
	}

	if ip != "" && s.config.MaxIPRequests > 0 {
		if err := s.check(ctx, "ip", ip, s.config.MaxIPRequests, s.config.IPWindow); err != nil {
			return err
		}
	}

	return nil
}

func (s *RateLimitService) check(ctx context.Context, kind, identifier string, limit int, window time.Duration) error {
	count, resetAt, err := s.counter.Incr(ctx, rateLimitKey(kind, identifier), window)
	if err != nil {
		return fmt.Errorf("failed to check %s rate limit: %w", kind, err)
	}

	if count > int64(limit) {
		return &RateLimitError{
			Message:    fmt.Sprintf("Too many booking attempts for this %s. Please try again after %s", kind, resetAt.UTC().Format("15:04:05")),
			RetryAfter: resetAt,
			Type:       kind,
		}
	}
	return nil
}

func rateLimitKey(kind, identifier string) string {
	return "ratelimit:hold:" + kind + ":" + identifier
}

// redisCounterClient is the subset of *redis.Client the counter needs
type redisCounterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisRateCounter shares windows across server instances
type RedisRateCounter struct {
	client redisCounterClient
	clock  clock.Clock
}

// NewRedisRateCounter creates a counter backed by Redis INCR with a window TTL
func NewRedisRateCounter(client redisCounterClient, clk clock.Clock) *RedisRateCounter {
	return &RedisRateCounter{client: client, clock: clk}
}

// Incr implements RateCounter
func (r *RedisRateCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	// NX keeps the first event's expiry; a key that lost its TTL gets one back here
	if err := r.client.ExpireNX(ctx, key, window).Err(); err != nil {
		return 0, time.Time{}, err
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl < 0 {
		ttl = window
	}
	return count, r.clock.Now().Add(ttl), nil
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryRateCounter keeps windows in process, for single-instance deployments
type MemoryRateCounter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*memoryWindow
	calls   int
}

// NewMemoryRateCounter creates an in-process counter
func NewMemoryRateCounter(clk clock.Clock) *MemoryRateCounter {
	return &MemoryRateCounter{
		clock:   clk,
		windows: make(map[string]*memoryWindow),
	}
}

// Incr implements RateCounter
func (m *MemoryRateCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.calls++
	if m.calls%1024 == 0 {
		m.pruneLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len returns the number of live windows
func (m *MemoryRateCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Prune drops windows that have already reset
func (m *MemoryRateCounter) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(m.clock.Now())
}

func (m *MemoryRateCounter) pruneLocked(now time.Time) int {
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}
