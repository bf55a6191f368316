package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage backend selection
	Storage StorageConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig

	// Hold acquisition throttling
	RateLimit RateLimitConfig

	// Booking timings and limits
	Booking BookingConfig

	// Reference code generation
	Reference ReferenceConfig

	// Redis configuration (shard leases, rate limit counters)
	Redis RedisConfig

	// Kafka configuration (reservation events)
	Kafka KafkaConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Notification fan-out
	Notification NotificationConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	LogLevel        string // debug, info, warn, error
	ShutdownTimeout time.Duration
}

// StorageConfig selects where holds and reservations live
type StorageConfig struct {
	Driver string // "postgres" or "memory"
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
}

// RateLimitConfig holds per-holder and per-IP booking start limits
type RateLimitConfig struct {
	Enabled           bool
	MaxHolderRequests int
	HolderWindow      time.Duration
	MaxIPRequests     int
	IPWindow          time.Duration
}

// BookingConfig holds hold, sweeper and payment timings
type BookingConfig struct {
	HoldTTL           time.Duration
	MaxHoldTTL        time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	PaymentTimeout    time.Duration
	HoldRetentionDays int
	PurgeSchedule     string // cron spec, seconds field included
	DefaultCurrency   string
	PendingSettleTTL  time.Duration // 0 disables cancelling unsettled pay-later reservations
}

// ReferenceConfig holds reference generator settings
type ReferenceConfig struct {
	Prefix     string
	ShardID    int // -1 leases a shard from Redis
	ShardCount int
	LeaseTTL   time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka producer settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// PaymentConfig holds payment collaborator settings
type PaymentConfig struct {
	Mode          string  // "simulator" or "http"
	SuccessRate   float64 // simulator only
	GatewayURL    string
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
}

// NotificationConfig holds notifier selection
type NotificationConfig struct {
	Channels []string // "log", "kafka"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 300*time.Second),
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "reservation-core"),
			AccessTokenExpiry: getEnvAsDuration("JWT_ACCESS_TOKEN_EXPIRY", time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			MaxHolderRequests: getEnvAsInt("RATE_LIMIT_HOLDS_PER_HOLDER", 10),
			HolderWindow:      getEnvAsDuration("RATE_LIMIT_HOLDER_WINDOW", 10*time.Minute),
			MaxIPRequests:     getEnvAsInt("RATE_LIMIT_HOLDS_PER_IP", 30),
			IPWindow:          getEnvAsDuration("RATE_LIMIT_IP_WINDOW", time.Hour),
		},
		Booking: BookingConfig{
			HoldTTL:           getEnvAsDuration("BOOKING_HOLD_TTL", 10*time.Minute),
			MaxHoldTTL:        getEnvAsDuration("BOOKING_MAX_HOLD_TTL", 30*time.Minute),
			SweepInterval:     getEnvAsDuration("HOLD_SWEEP_INTERVAL", 15*time.Second),
			SweepBatchSize:    getEnvAsInt("HOLD_SWEEP_BATCH_SIZE", 100),
			PaymentTimeout:    getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
			HoldRetentionDays: getEnvAsInt("HOLD_RETENTION_DAYS", 7),
			PurgeSchedule:     getEnv("HOLD_PURGE_SCHEDULE", "0 30 3 * * *"),
			DefaultCurrency:   getEnv("BOOKING_DEFAULT_CURRENCY", "USD"),
			PendingSettleTTL:  getEnvAsDuration("BOOKING_PENDING_SETTLE_TTL", 48*time.Hour),
		},
		Reference: ReferenceConfig{
			Prefix:     getEnv("REFERENCE_PREFIX", "TB"),
			ShardID:    getEnvAsInt("REFERENCE_SHARD_ID", 0),
			ShardCount: getEnvAsInt("REFERENCE_SHARD_COUNT", 1024),
			LeaseTTL:   getEnvAsDuration("REFERENCE_LEASE_TTL", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_RESERVATION_TOPIC", "reservation.events"),
		},
		Payment: PaymentConfig{
			Mode:          getEnv("PAYMENT_MODE", "simulator"),
			SuccessRate:   getEnvAsFloat("PAYMENT_SIMULATOR_SUCCESS_RATE", 0.9),
			GatewayURL:    getEnv("PAYMENT_GATEWAY_URL", ""),
			MerchantKey:   getEnv("PAYMENT_MERCHANT_KEY", ""),
			MerchantToken: getEnv("PAYMENT_MERCHANT_TOKEN", ""),
		},
		Notification: NotificationConfig{
			Channels: getEnvAsSlice("NOTIFICATION_CHANNELS", []string{"log"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: %s (must be 'postgres' or 'memory')", c.Storage.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("BOOKING_HOLD_TTL must be positive")
	}
	if c.Booking.MaxHoldTTL < c.Booking.HoldTTL {
		return fmt.Errorf("BOOKING_MAX_HOLD_TTL must not be shorter than BOOKING_HOLD_TTL")
	}
	if c.Booking.SweepInterval <= 0 {
		return fmt.Errorf("HOLD_SWEEP_INTERVAL must be positive")
	}
	if c.Booking.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.Booking.PendingSettleTTL < 0 {
		return fmt.Errorf("BOOKING_PENDING_SETTLE_TTL must not be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.HolderWindow <= 0 || c.RateLimit.IPWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_HOLDER_WINDOW and RATE_LIMIT_IP_WINDOW must be positive")
	}

	if c.Reference.ShardCount < 1 || c.Reference.ShardCount > 1024 {
		return fmt.Errorf("REFERENCE_SHARD_COUNT must be between 1 and 1024")
	}
	if c.Reference.ShardID >= c.Reference.ShardCount {
		return fmt.Errorf("REFERENCE_SHARD_ID must be below REFERENCE_SHARD_COUNT")
	}
	if c.Reference.ShardID < 0 && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required to lease a reference shard (REFERENCE_SHARD_ID=-1)")
	}

	switch c.Payment.Mode {
	case "simulator":
		if c.Payment.SuccessRate < 0 || c.Payment.SuccessRate > 1 {
			return fmt.Errorf("PAYMENT_SIMULATOR_SUCCESS_RATE must be between 0 and 1")
		}
	case "http":
		if c.Payment.GatewayURL == "" || c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "" {
			return fmt.Errorf("PAYMENT_GATEWAY_URL, PAYMENT_MERCHANT_KEY and PAYMENT_MERCHANT_TOKEN are required for http payment mode")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_MODE: %s (must be 'simulator' or 'http')", c.Payment.Mode)
	}

	for _, ch := range c.Notification.Channels {
		switch ch {
		case "log":
		case "kafka":
			if len(c.Kafka.Brokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required for the kafka notification channel")
			}
		default:
			return fmt.Errorf("invalid notification channel: %s", ch)
		}
	}

	return nil
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logrus.Warnf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logrus.Warnf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logrus.Warnf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("10m") or plain seconds ("600")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logrus.Warnf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
