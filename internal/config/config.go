package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	DatabaseURL  string
	RedisAddr    string
	JWTSecret    string
	CORSOrigins  []string
	RateLimit    int
	RatePeriod   time.Duration
	DedupWindow  time.Duration
	HistoryLimit int
}

// Load reads an optional .env file, then the environment. Only the
// database DSN and JWT secret have no usable default.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:         envOr("CHAT_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("CHAT_DATABASE_URL"),
		RedisAddr:    envOr("CHAT_REDIS_ADDR", "localhost:6379"),
		JWTSecret:    os.Getenv("CHAT_JWT_SECRET"),
		CORSOrigins:  envList("CHAT_CORS_ORIGINS"),
		RateLimit:    envInt("CHAT_RATE_LIMIT", 100),
		RatePeriod:   envDuration("CHAT_RATE_PERIOD_MS", 60_000),
		DedupWindow:  envDuration("CHAT_DEDUP_WINDOW_MS", 60_000),
		HistoryLimit: envInt("CHAT_HISTORY_LIMIT", 500),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return n
		}
		slog.Warn("config: invalid int, using default", "key", key, "value", v, "default", fallback)
	}
	return fallback
}

func envDuration(key string, defaultMillis int) time.Duration {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default_ms", defaultMillis)
	}
	return time.Duration(defaultMillis) * time.Millisecond
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
