// Package config provides configuration loading for the mindloom services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the syncserver and skillworker binaries.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Backend (primary relational service owning users/spaces/permissions)
	BackendURL    string
	InternalToken string

	// Persistence
	DatabaseURL  string
	DocStoreType string // "memory" or "postgres"

	// Sync debounce
	PersistDebounce    time.Duration
	PersistMaxDebounce time.Duration

	// Redis (run triggers + status publish)
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TriggerQueue  string
	StatusChannel string
	CancelChannel string

	// Sync server endpoint used by the worker and cross-space transfers
	SyncURL string

	// LLM provider
	OpenAIAPIKey  string
	OpenAIBaseURL string
	DefaultModel  string
	ProviderRPS   float64
	ProviderBurst int

	// Paper providers
	PaperSearchURL string
	PaperQAURL     string

	// Snapshot archive (disabled unless bucket set)
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveUseSSL    bool

	// WebSocket origins
	AllowedOrigins []string

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "8060"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Backend
		BackendURL:    getEnv("BACKEND_URL", "http://localhost:8000"),
		InternalToken: getEnv("INTERNAL_TOKEN", ""),

		// Persistence
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DocStoreType: getEnv("DOCSTORE", "postgres"), // "memory" or "postgres"

		// Sync debounce
		PersistDebounce:    getDuration("PERSIST_DEBOUNCE", 2*time.Second),
		PersistMaxDebounce: getDuration("PERSIST_MAX_DEBOUNCE", 20*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		TriggerQueue:  getEnv("TRIGGER_QUEUE", "mindloom:run-triggers"),
		StatusChannel: getEnv("STATUS_CHANNEL", "mindloom:run-status"),
		CancelChannel: getEnv("CANCEL_CHANNEL", "mindloom:run-cancel"),

		// Sync endpoint
		SyncURL: getEnv("SYNC_URL", "ws://localhost:8060"),

		// LLM provider
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		DefaultModel:  getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		ProviderRPS:   getFloat("PROVIDER_RPS", 2.0),
		ProviderBurst: getInt("PROVIDER_BURST", 4),

		// Paper providers
		PaperSearchURL: getEnv("PAPER_SEARCH_URL", ""),
		PaperQAURL:     getEnv("PAPER_QA_URL", ""),

		// Snapshot archive
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    getEnv("ARCHIVE_REGION", ""),
		ArchiveAccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveUseSSL:    getBool("ARCHIVE_USE_SSL", false),

		// Origins
		AllowedOrigins: getStringSlice("ALLOWED_ORIGINS", nil),

		// Tracing
		TracingEnabled: getBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
