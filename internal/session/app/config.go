package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseFile string // Optional: path to SQLite database file (default: ./sessions.db)
	RedisAddr    string // Optional: Redis host:port for the session cache (default: localhost:6379)
	RedisPrefix  string // Optional: key prefix for cache entries (default: sessiond)

	AccessTTL    time.Duration // Optional: cached snapshot lifetime (default: 15m)
	RefreshTTL   time.Duration // Optional: absolute session lifetime (default: 720h / 30 days)
	StoreTimeout time.Duration // Optional: per-call durable store deadline (default: 2s)
	CacheTimeout time.Duration // Optional: per-call cache deadline (default: 250ms)

	SlidingRefresh     bool // Optional: reset expiry on every rotation (default: true)
	TheftRevokeAll     bool // Optional: theft response revokes all user sessions (default: false)
	AllowDegradedReads bool // Optional: serve cache-only validations during store outages (default: false)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Terminal-session purge interval (default: 1h)
	SessionRetention     time.Duration // How long terminal sessions stay queryable (default: 90 days)
}

func LoadConfig() Config {
	return Config{
		DatabaseFile: getEnvOrDefault("SESSION_DATABASE_FILE", "sessions.db"),
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:  getEnvOrDefault("REDIS_PREFIX", "sessiond"),

		AccessTTL:    getEnvDurationOrDefault("SESSION_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:   getEnvDurationOrDefault("SESSION_REFRESH_TTL", 30*24*time.Hour),
		StoreTimeout: getEnvDurationOrDefault("SESSION_STORE_TIMEOUT", 2*time.Second),
		CacheTimeout: getEnvDurationOrDefault("SESSION_CACHE_TIMEOUT", 250*time.Millisecond),

		SlidingRefresh:     getEnvBoolOrDefault("SESSION_SLIDING_REFRESH", true),
		TheftRevokeAll:     getEnvBoolOrDefault("SESSION_THEFT_REVOKE_ALL", false),
		AllowDegradedReads: getEnvBoolOrDefault("SESSION_ALLOW_DEGRADED_READS", false),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		SessionRetention:     getEnvDurationOrDefault("SESSION_RETENTION", 90*24*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
