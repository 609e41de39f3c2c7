package config

import (
	"os"
	"strconv"
	"time"

	"github.com/Alwanly/service-source-ingest/pkg/pubsub"
)

type IngestorConfig struct {
	ServerAddr        string
	DatabasePath      string
	OutputDir         string
	ReconcileInterval time.Duration
	FetchTimeout      time.Duration
	AdminUsername     string
	AdminPassword     string
	// Redis is nil when REDIS_HOST is not set.
	Redis *pubsub.RedisConfig
	// Startup retry configuration for the database
	StartupMaxRetries     int
	StartupInitialBackoff time.Duration
	StartupMaxBackoff     time.Duration
}

// LoadIngestorConfig reads ingestor config from environment or returns defaults
func LoadIngestorConfig() (*IngestorConfig, error) {
	cfg := &IngestorConfig{
		ServerAddr:            envOrDefault("INGESTOR_ADDR", ":8090"),
		DatabasePath:          envOrDefault("DATABASE_PATH", "./data/ingestor.db"),
		OutputDir:             envOrDefault("OUTPUT_DIR", "./data/output"),
		ReconcileInterval:     envSeconds("RECONCILE_INTERVAL", 30*time.Second),
		FetchTimeout:          envSeconds("FETCH_TIMEOUT", 30*time.Second),
		AdminUsername:         envOrDefault("ADMIN_USER", "admin"),
		AdminPassword:         envOrDefault("ADMIN_PASSWORD", "password"),
		StartupMaxRetries:     envInt("STARTUP_MAX_RETRIES", 5),
		StartupInitialBackoff: envSeconds("STARTUP_INITIAL_BACKOFF", time.Second),
		StartupMaxBackoff:     envSeconds("STARTUP_MAX_BACKOFF", 30*time.Second),
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis = &pubsub.RedisConfig{
			Host:     host,
			Port:     envInt("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		}
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// envSeconds reads a whole number of seconds. Values below one are ignored.
func envSeconds(key string, def time.Duration) time.Duration {
	if i := envInt(key, 0); i > 0 {
		return time.Duration(i) * time.Second
	}
	return def
}
