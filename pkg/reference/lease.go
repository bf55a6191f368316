package reference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const leaseKeyPrefix = "refgen:shard:"

var (
	ErrNoFreeShard = errors.New("no free reference shard")
	ErrLeaseLost   = errors.New("reference shard lease lost")
)

// LeaseStore is the Redis surface a lease needs. *redis.Client satisfies it.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ShardLease owns one shard id for as long as it keeps renewing.
// A lease that has not been renewed for a full ttl is treated as lost, since
// the key may have expired and been claimed elsewhere.
type ShardLease struct {
	store   LeaseStore
	owner   string
	shard   int
	ttl     time.Duration
	now     func() time.Time
	renewed atomic.Int64 // unix nanos of the last confirmed claim or renewal
	lost    atomic.Bool
}

// LeaseOption configures a ShardLease
type LeaseOption func(*ShardLease)

// WithLeaseClock replaces time.Now
func WithLeaseClock(now func() time.Time) LeaseOption {
	return func(l *ShardLease) { l.now = now }
}

// AcquireShard claims the lowest free shard below shardCount
func AcquireShard(ctx context.Context, store LeaseStore, owner string, shardCount int, ttl time.Duration, opts ...LeaseOption) (*ShardLease, error) {
	if shardCount < 1 || shardCount > MaxShard+1 {
		return nil, fmt.Errorf("%w: shard count %d", ErrInvalidShard, shardCount)
	}
	lease := &ShardLease{store: store, owner: owner, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(lease)
	}

	for shard := 0; shard < shardCount; shard++ {
		// Taken before the call so the local deadline never outlives the key
		sent := lease.now()
		ok, err := store.SetNX(ctx, leaseKey(shard), owner, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("claim shard %d: %w", shard, err)
		}
		if ok {
			lease.shard = shard
			lease.renewed.Store(sent.UnixNano())
			return lease, nil
		}
	}
	return nil, ErrNoFreeShard
}

func leaseKey(shard int) string {
	return fmt.Sprintf("%s%d", leaseKeyPrefix, shard)
}

// Shard returns the leased shard id
func (l *ShardLease) Shard() int {
	return l.shard
}

// Check returns ErrLeaseLost once a renewal found the key gone or taken, or
// when no renewal has succeeded within the ttl
func (l *ShardLease) Check() error {
	if l.lost.Load() {
		return fmt.Errorf("%w: shard %d", ErrLeaseLost, l.shard)
	}
	last := time.Unix(0, l.renewed.Load())
	if l.now().Sub(last) >= l.ttl {
		l.lost.Store(true)
		return fmt.Errorf("%w: shard %d not renewed since %s", ErrLeaseLost, l.shard, last.UTC().Format(time.RFC3339))
	}
	return nil
}

// Renew extends the lease if this process still owns it
func (l *ShardLease) Renew(ctx context.Context) error {
	if err := l.Check(); err != nil {
		return err
	}
	key := leaseKey(l.shard)
	sent := l.now()
	current, err := l.store.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read lease: %w", err)
	}
	if current != l.owner {
		l.lost.Store(true)
		return fmt.Errorf("%w: shard %d now owned by %q", ErrLeaseLost, l.shard, current)
	}
	ok, err := l.store.Expire(ctx, key, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if !ok {
		l.lost.Store(true)
		return fmt.Errorf("%w: shard %d expired before renewal", ErrLeaseLost, l.shard)
	}
	l.renewed.Store(sent.UnixNano())
	return nil
}

// KeepAlive renews every ttl/3 until ctx is done, then releases the shard
func (l *ShardLease) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return l.Release(releaseCtx)
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if errors.Is(err, ErrLeaseLost) {
					logrus.WithField("shard", l.shard).WithError(err).Error("❌ Reference shard lease lost, reference generation halted")
					return err
				}
				// Transient Redis failure: keep trying while the key is still alive
				logrus.WithField("shard", l.shard).WithError(err).Warn("Failed to renew reference shard lease")
				if lost := l.Check(); lost != nil {
					logrus.WithField("shard", l.shard).WithError(lost).Error("❌ Reference shard lease lapsed, reference generation halted")
					return lost
				}
			}
		}
	}
}

// Release gives the shard back if still owned
func (l *ShardLease) Release(ctx context.Context) error {
	key := leaseKey(l.shard)
	current, err := l.store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lease: %w", err)
	}
	if current != l.owner {
		return nil
	}
	if err := l.store.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
