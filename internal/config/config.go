// Package config handles loading and validating configuration from environment variables.
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

const (
	// CheckpointMemory keeps pending interrupts in process memory.
	CheckpointMemory = "memory"
	// CheckpointSQLite keeps pending interrupts in a SQLite file.
	CheckpointSQLite = "sqlite"
	// CheckpointRedis keeps pending interrupts in Redis.
	CheckpointRedis = "redis"

	defaultStreamTimeoutSeconds = 1800
	defaultEngineURL            = "http://127.0.0.1:8001"
	defaultFrontendURL          = "https://your-app.vercel.app"
)

// Config holds all application configuration.
type Config struct {
	// ServerAddr is the HTTP listen address (e.g., :8000).
	ServerAddr string
	// AppEnv is the deployment environment; "production" restricts CORS origins.
	AppEnv string
	// FrontendURL is an extra allowed CORS origin in production.
	FrontendURL string
	// StreamTimeout bounds one chat stream from first pull to last event.
	StreamTimeout time.Duration
	// EngineURL is the base URL of the workflow engine sidecar.
	EngineURL string
	// EngineInitTimeout bounds the one-shot engine init probe at startup.
	EngineInitTimeout time.Duration
	// Checkpoint selects and configures the pending-interrupt store.
	Checkpoint CheckpointConfig
	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is text or json.
	LogFormat string
}

// CheckpointConfig holds pending-interrupt store settings.
type CheckpointConfig struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Load reads configuration from environment variables.
// It loads .env file if present, but environment variables take precedence.
func Load() (*Config, error) {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:  strings.TrimSpace(os.Getenv("SERVER_ADDR")),
		AppEnv:      strings.TrimSpace(os.Getenv("APP_ENV")),
		FrontendURL: strings.TrimSpace(os.Getenv("FRONTEND_URL")),
		EngineURL:   strings.TrimSpace(os.Getenv("WORKFLOW_ENGINE_URL")),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFormat:   os.Getenv("LOG_FORMAT"),
		Checkpoint: CheckpointConfig{
			Backend:       strings.ToLower(strings.TrimSpace(os.Getenv("CHECKPOINT_BACKEND"))),
			SQLitePath:    strings.TrimSpace(os.Getenv("CHECKPOINT_SQLITE_PATH")),
			RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
		},
	}
	cfg.StreamTimeout = time.Duration(parseIntEnv("STREAM_TIMEOUT_SECONDS", defaultStreamTimeoutSeconds)) * time.Second
	cfg.EngineInitTimeout = parseDurationEnv("WORKFLOW_INIT_TIMEOUT", 10*time.Second)
	cfg.MetricsEnabled = parseBoolEnv("METRICS_ENABLED", true)
	cfg.Checkpoint.RedisDB = parseNonNegativeIntEnv("REDIS_DB", 0)
	cfg.Checkpoint.TTL = parseDurationEnv("CHECKPOINT_TTL", 24*time.Hour)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fills defaults and rejects invalid combinations.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8000"
	}
	if c.AppEnv == "" {
		c.AppEnv = "development"
	}
	if c.FrontendURL == "" {
		c.FrontendURL = defaultFrontendURL
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = defaultStreamTimeoutSeconds * time.Second
	}
	if c.EngineURL == "" {
		c.EngineURL = defaultEngineURL
	}
	c.EngineURL = strings.TrimRight(c.EngineURL, "/")
	if !strings.HasPrefix(c.EngineURL, "http://") && !strings.HasPrefix(c.EngineURL, "https://") {
		return fmt.Errorf("WORKFLOW_ENGINE_URL must be an http(s) URL, got %q", c.EngineURL)
	}
	if c.EngineInitTimeout <= 0 {
		c.EngineInitTimeout = 10 * time.Second
	}

	switch c.Checkpoint.Backend {
	case "":
		c.Checkpoint.Backend = CheckpointMemory
	case CheckpointMemory, CheckpointSQLite, CheckpointRedis:
	default:
		return fmt.Errorf("unsupported CHECKPOINT_BACKEND: %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == CheckpointSQLite && c.Checkpoint.SQLitePath == "" {
		c.Checkpoint.SQLitePath = "data/checkpoints.db"
	}
	if c.Checkpoint.Backend == CheckpointRedis && c.Checkpoint.RedisAddr == "" {
		c.Checkpoint.RedisAddr = "127.0.0.1:6379"
	}
	if c.Checkpoint.TTL < 0 {
		return errors.New("CHECKPOINT_TTL must not be negative")
	}
	return nil
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseNonNegativeIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
