// Package config loads CLI settings from the environment and an optional .env
// file. Every variable is prefixed TICKETCACHE_.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "TICKETCACHE_"

// Provider kinds.
const (
	ProviderBigcache  = "bigcache"
	ProviderRistretto = "ristretto"
	ProviderRedis     = "redis"
)

// GenStore kinds.
const (
	GenLocal = "local"
	GenRedis = "redis"
)

// Config aggregates runtime configuration.
type Config struct {
	API    APIConfig
	Cache  CacheConfig
	Redis  RedisConfig
	Logger LoggerConfig
	Server ServerConfig
}

// APIConfig points the client at the ticket REST API.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CacheConfig controls the session caches and their storage.
type CacheConfig struct {
	Provider  string
	GenStore  string
	Codec     string
	MaxDecode int
	PageSize  int

	StorageTTL       time.Duration
	ListFreshness    time.Duration
	ListRetention    time.Duration
	DetailFreshness  time.Duration
	DetailRetention  time.Duration
	CommentFreshness time.Duration
	CommentRetention time.Duration
	CleanupInterval  time.Duration
	RetryBackoff     time.Duration

	BigcacheMaxMB    int
	RistrettoMaxCost int64
}

// RedisConfig holds Redis connection values for the redis provider and genstore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	GenTTL   time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Backend  string // zap, logrus or slog
	Encoding string // json or console (zap only)
}

// ServerConfig configures the development server.
type ServerConfig struct {
	Addr    string
	Prefix  string
	Latency time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// possible. A .env file in the working directory is loaded first when present;
// variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid %sREDIS_DB: %w", prefix, err)
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: getEnv("API_URL", "http://localhost:3000/api"),
			Timeout: getEnvAsDuration("API_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			Provider:  strings.ToLower(getEnv("PROVIDER", ProviderBigcache)),
			GenStore:  strings.ToLower(getEnv("GENSTORE", GenLocal)),
			Codec:     strings.ToLower(getEnv("CODEC", "json")),
			MaxDecode: getEnvAsInt("MAX_DECODE_BYTES", 0),
			PageSize:  getEnvAsInt("PAGE_SIZE", 12),

			StorageTTL:       getEnvAsDuration("STORAGE_TTL", 0),
			ListFreshness:    getEnvAsDuration("LIST_FRESHNESS", 5*time.Minute),
			ListRetention:    getEnvAsDuration("LIST_RETENTION", 10*time.Minute),
			DetailFreshness:  getEnvAsDuration("DETAIL_FRESHNESS", 5*time.Minute),
			DetailRetention:  getEnvAsDuration("DETAIL_RETENTION", 30*time.Minute),
			CommentFreshness: getEnvAsDuration("COMMENT_FRESHNESS", 2*time.Minute),
			CommentRetention: getEnvAsDuration("COMMENT_RETENTION", 5*time.Minute),
			CleanupInterval:  getEnvAsDuration("CLEANUP_INTERVAL", time.Minute),
			RetryBackoff:     getEnvAsDuration("RETRY_BACKOFF", time.Second),

			BigcacheMaxMB:    getEnvAsInt("BIGCACHE_MAX_MB", 64),
			RistrettoMaxCost: int64(getEnvAsInt("RISTRETTO_MAX_COST", 64<<20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv(prefix + "REDIS_PASSWORD"),
			DB:       redisDB,
			GenTTL:   getEnvAsDuration("REDIS_GEN_TTL", 24*time.Hour),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Backend:  strings.ToLower(getEnv("LOG_BACKEND", "zap")),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Server: ServerConfig{
			Addr:    getEnv("SERVER_ADDR", "127.0.0.1:3000"),
			Prefix:  getEnv("SERVER_PREFIX", "/api"),
			Latency: getEnvAsDuration("SERVER_LATENCY", 0),
		},
	}
	return cfg, nil
}

// Validate rejects unknown kinds and out-of-range sizes.
func (c *Config) Validate() error {
	switch c.Cache.Provider {
	case ProviderBigcache, ProviderRistretto, ProviderRedis:
	default:
		return fmt.Errorf("config: unknown provider %q (want bigcache, ristretto or redis)", c.Cache.Provider)
	}
	switch c.Cache.GenStore {
	case GenLocal, GenRedis:
	default:
		return fmt.Errorf("config: unknown genstore %q (want local or redis)", c.Cache.GenStore)
	}
	switch c.Cache.Codec {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("config: unknown codec %q (want json, cbor or msgpack)", c.Cache.Codec)
	}
	switch c.Logger.Backend {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("config: unknown log backend %q (want zap, logrus or slog)", c.Logger.Backend)
	}
	if c.Cache.PageSize < 1 || c.Cache.PageSize > 100 {
		return fmt.Errorf("config: %sPAGE_SIZE must be in [1,100], got %d", prefix, c.Cache.PageSize)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Cache.Provider == ProviderRedis || c.Cache.GenStore == GenRedis
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(prefix + key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(prefix + key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(prefix + key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
