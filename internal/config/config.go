package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	ServerAddr         string
	LogLevel           slog.Level
	UpstreamWSURL      string
	UpstreamToken      string
	CheckpointInterval time.Duration
	RateLimit          int
	RateWindow         time.Duration
	MinIOEndpoint      string
	MinIOAccessKey     string
	MinIOSecretKey     string
	MinIOBucket        string
	MinIOUseSSL        bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set
// in the environment win. Load panics when required variables are missing
// or malformed.
func Load() *Config {
	_ = godotenv.Load()

	var problems []string
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		ServerAddr:         envOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:           parseLogLevel(os.Getenv("LOG_LEVEL")),
		UpstreamWSURL:      os.Getenv("UPSTREAM_WS_URL"),
		UpstreamToken:      os.Getenv("UPSTREAM_TOKEN"),
		CheckpointInterval: envDuration("CHECKPOINT_INTERVAL", 30*time.Second, &problems),
		RateLimit:          envInt("RATE_LIMIT", 120, &problems),
		RateWindow:         envDuration("RATE_WINDOW", time.Minute, &problems),
		MinIOEndpoint:      os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:        envOrDefault("MINIO_BUCKET", "permd"),
		MinIOUseSSL:        envBool("MINIO_USE_SSL", false, &problems),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.UpstreamWSURL != "" && cfg.UpstreamToken == "" {
		missing = append(missing, "UPSTREAM_TOKEN")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}
	if len(problems) > 0 {
		panic(fmt.Sprintf("invalid environment variables: %s", strings.Join(problems, "; ")))
	}

	return cfg
}

// ArchiveEnabled reports whether snapshot archiving is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.MinIOEndpoint != ""
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration, problems *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a positive duration", key, v))
		return fallback
	}
	return d
}

func envInt(key string, fallback int, problems *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a positive integer", key, v))
		return fallback
	}
	return n
}

func envBool(key string, fallback bool, problems *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a boolean", key, v))
		return fallback
	}
	return b
}
