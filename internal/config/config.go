// Package config loads service configuration from the environment with
// optional overrides from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EmbedProvider identifies the embedding backend.
type EmbedProvider string

const (
	ProviderOllama EmbedProvider = "ollama"
	ProviderOpenAI EmbedProvider = "openai"
	ProviderMock   EmbedProvider = "mock"
)

// DefaultListenAddr is the server's default bind address. The CLI
// client derives its default endpoint from it.
const DefaultListenAddr = ":8385"

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ListenAddr string `yaml:"listen_addr"`

	// SurrealDB (graph store)
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"` // "root" or "database"

	// Vector index persistence; empty keeps the index in memory only.
	VectorPath string `yaml:"vector_path"`

	// Embedding
	EmbedProvider  EmbedProvider `yaml:"embed_provider"`
	EmbedModel     string        `yaml:"embed_model"`
	EmbedDimension int           `yaml:"embed_dimension"`
	OllamaHost     string        `yaml:"ollama_host"`
	OpenAIAPIKey   string        `yaml:"-"`

	// Auth
	JWTSecret string `yaml:"-"`

	// Admission control
	HTTPRatePerMinute   int `yaml:"http_rate_per_minute"`
	HTTPBurst           int `yaml:"http_burst"`
	StreamRatePerMinute int `yaml:"stream_rate_per_minute"`
	StreamBurst         int `yaml:"stream_burst"`

	// Sessions & streaming
	SessionSilenceWindow time.Duration `yaml:"session_silence_window"`
	SessionIdleTimeout   time.Duration `yaml:"session_idle_timeout"`
	SessionSendBuffer    int           `yaml:"session_send_buffer"`
	StreamChunkSize      int           `yaml:"stream_chunk_size"`

	// Dual-store write discipline
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	WriteRetries     int           `yaml:"write_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	IdempotencyTTL   time.Duration `yaml:"idempotency_ttl"`
	QueryFanout      int           `yaml:"query_fanout"`
	SuggestFanout    int           `yaml:"suggest_fanout"`
	TraverseDepthCap int           `yaml:"traverse_depth_cap"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables, then applies the
// YAML file named by MEMCORD_CONFIG on top if present.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MEMCORD_LISTEN_ADDR", DefaultListenAddr),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "memcord"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "graph"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		VectorPath: getEnv("MEMCORD_VECTOR_PATH", ""),

		EmbedProvider:  EmbedProvider(getEnv("MEMCORD_EMBED_PROVIDER", "ollama")),
		EmbedModel:     getEnv("MEMCORD_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("MEMCORD_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),

		JWTSecret: os.Getenv("MEMCORD_JWT_SECRET"),

		HTTPRatePerMinute:   getEnvInt("MEMCORD_HTTP_RATE", 100),
		HTTPBurst:           getEnvInt("MEMCORD_HTTP_BURST", 20),
		StreamRatePerMinute: getEnvInt("MEMCORD_STREAM_RATE", 50),
		StreamBurst:         getEnvInt("MEMCORD_STREAM_BURST", 10),

		SessionSilenceWindow: getEnvDuration("MEMCORD_SESSION_SILENCE", 60*time.Second),
		SessionIdleTimeout:   getEnvDuration("MEMCORD_SESSION_IDLE_TIMEOUT", 300*time.Second),
		SessionSendBuffer:    getEnvInt("MEMCORD_SESSION_SEND_BUFFER", 32),
		StreamChunkSize:      getEnvInt("MEMCORD_STREAM_CHUNK_SIZE", 100),

		StoreTimeout:     getEnvDuration("MEMCORD_STORE_TIMEOUT", 5*time.Second),
		WriteRetries:     getEnvInt("MEMCORD_WRITE_RETRIES", 3),
		RetryBackoff:     getEnvDuration("MEMCORD_RETRY_BACKOFF", 50*time.Millisecond),
		IdempotencyTTL:   getEnvDuration("MEMCORD_IDEMPOTENCY_TTL", 10*time.Minute),
		QueryFanout:      getEnvInt("MEMCORD_QUERY_FANOUT", 3),
		SuggestFanout:    getEnvInt("MEMCORD_SUGGEST_FANOUT", 2),
		TraverseDepthCap: getEnvInt("MEMCORD_TRAVERSE_DEPTH_CAP", 10),

		LogFile:  getEnv("MEMCORD_LOG_FILE", "/tmp/memcord.log"),
		LogLevel: parseLogLevel(getEnv("MEMCORD_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("MEMCORD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.QueryFanout < 3 {
		cfg.QueryFanout = 3
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
