package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "TILLBASE_"

// Config carries all process configuration. Values come from the environment,
// optionally seeded from a .env file in development.
type Config struct {
	ListenAddr string
	PostgresDSN string
	RedisAddr   string

	AuthSecret  string
	TokenIssuer string
	AccessTTL   time.Duration
	SessionTTL  time.Duration

	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64

	DecisionCacheSize int
	DecisionCacheTTL  time.Duration
}

// Load reads configuration from the environment. A missing .env file is not an
// error; a malformed one is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		ListenAddr:         getString("LISTEN_ADDR", ":8080"),
		PostgresDSN:        getString("PG_DSN", ""),
		RedisAddr:          getString("REDIS_ADDR", ""),
		AuthSecret:         getString("AUTH_SECRET", ""),
		TokenIssuer:        getString("TOKEN_ISSUER", "tillbase"),
		AccessTTL:          getDuration("ACCESS_TTL", 15*time.Minute),
		SessionTTL:         getDuration("SESSION_TTL", 12*time.Hour),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 50),
		RateLimitPerSecond: getInt("RATE_LIMIT_PER_SECOND", 25),
		MaxBodyBytes:       int64(getInt("MAX_BODY_BYTES", 1<<20)),
		DecisionCacheSize:  getInt("DECISION_CACHE_SIZE", 4096),
		DecisionCacheTTL:   getDuration("DECISION_CACHE_TTL", time.Minute),
	}

	if strings.TrimSpace(cfg.AuthSecret) == "" {
		return Config{}, errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
