// Package config loads the Roomcast runtime configuration from the
// environment, with a .env file honored in development. Every knob has a
// documented default so the server runs with no configuration at all.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimit bounds inbound command throughput per connection.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// Reconnect holds the client-side retry policy: exponential backoff from
// InitialDelay by Multiplier up to MaxDelay, giving up after MaxAttempts.
type Reconnect struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Config holds all runtime settings for the server and the client-side
// reconnection controller.
type Config struct {
	Addr           string
	AllowedOrigins []string
	DatabasePath   string
	JWTSecret      string

	// HeartbeatInterval is the server ping cadence; HeartbeatTimeout is how
	// long a connection may stay silent before the registry closes it.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// EvictionGrace is how long an empty room survives before eviction.
	EvictionGrace time.Duration

	// HistoryLimit bounds the recent-message replay on join; 0 disables it.
	HistoryLimit int

	MaxMessageSize int64
	RateLimit      RateLimit
	Reconnect      Reconnect

	ShutdownTimeout time.Duration
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		AllowedOrigins:    []string{"http://localhost:8080"},
		DatabasePath:      "roomcast.db",
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		EvictionGrace:     30 * time.Second,
		HistoryLimit:      50,
		MaxMessageSize:    4096,
		RateLimit: RateLimit{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Reconnect: Reconnect{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			MaxAttempts:  10,
		},
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads configuration from the environment on top of the defaults.
// A .env file in the working directory is loaded first when present;
// missing .env is fine in production where real env vars are set.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.HeartbeatInterval = durationEnv("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.HeartbeatTimeout = durationEnv("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.EvictionGrace = durationEnv("ROOM_EVICTION_GRACE", cfg.EvictionGrace)
	cfg.HistoryLimit = intEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.MaxMessageSize = int64Env("MAX_MESSAGE_SIZE", cfg.MaxMessageSize)

	cfg.RateLimit.Burst = intEnv("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = durationEnv("RATE_LIMIT_REFILL_INTERVAL", cfg.RateLimit.RefillInterval)

	cfg.Reconnect.InitialDelay = durationEnv("RECONNECT_INITIAL_DELAY", cfg.Reconnect.InitialDelay)
	cfg.Reconnect.Multiplier = floatEnv("RECONNECT_MULTIPLIER", cfg.Reconnect.Multiplier)
	cfg.Reconnect.MaxDelay = durationEnv("RECONNECT_MAX_DELAY", cfg.Reconnect.MaxDelay)
	cfg.Reconnect.MaxAttempts = intEnv("RECONNECT_MAX_ATTEMPTS", cfg.Reconnect.MaxAttempts)

	cfg.ShutdownTimeout = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	return cfg
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if n, err := strconv.Atoi(value); err == nil && n >= 0 {
		return n
	}
	return fallback
}

func int64Env(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return n
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 1 {
		return f
	}
	return fallback
}
