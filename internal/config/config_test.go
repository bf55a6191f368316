package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 15*time.Second, cfg.Booking.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Booking.PaymentTimeout)
	assert.Equal(t, 7, cfg.Booking.HoldRetentionDays)
	assert.Equal(t, 48*time.Hour, cfg.Booking.PendingSettleTTL)
	assert.Equal(t, "TB", cfg.Reference.Prefix)
	assert.Equal(t, "simulator", cfg.Payment.Mode)
	assert.InDelta(t, 0.9, cfg.Payment.SuccessRate, 1e-9)
	assert.Equal(t, []string{"log"}, cfg.Notification.Channels)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.MaxHolderRequests)
	assert.Equal(t, time.Hour, cfg.RateLimit.IPWindow)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BOOKING_HOLD_TTL", "5m")
	t.Setenv("HOLD_SWEEP_INTERVAL", "30")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("NOTIFICATION_CHANNELS", "log,kafka")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 30*time.Second, cfg.Booking.SweepInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:      StorageConfig{Driver: "memory"},
			JWT:          JWTConfig{Secret: "s"},
			Booking:      BookingConfig{HoldTTL: time.Minute, MaxHoldTTL: time.Hour, SweepInterval: time.Second, PaymentTimeout: time.Second},
			Reference:    ReferenceConfig{ShardCount: 1024},
			Payment:      PaymentConfig{Mode: "simulator", SuccessRate: 0.9},
			Notification: NotificationConfig{Channels: []string{"log"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "STORAGE_DRIVER"},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET"},
		{"max ttl below ttl", func(c *Config) { c.Booking.MaxHoldTTL = time.Second }, "BOOKING_MAX_HOLD_TTL"},
		{"negative settle ttl", func(c *Config) { c.Booking.PendingSettleTTL = -time.Hour }, "BOOKING_PENDING_SETTLE_TTL"},
		{"shard out of range", func(c *Config) { c.Reference.ShardID = 2000 }, "REFERENCE_SHARD_ID"},
		{"lease without redis", func(c *Config) { c.Reference.ShardID = -1 }, "REDIS_ADDR"},
		{"http gateway incomplete", func(c *Config) { c.Payment.Mode = "http" }, "PAYMENT_GATEWAY_URL"},
		{"rate limit without window", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, HolderWindow: time.Minute} }, "RATE_LIMIT_IP_WINDOW"},
		{"kafka without brokers", func(c *Config) { c.Notification.Channels = []string{"kafka"} }, "KAFKA_BROKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
