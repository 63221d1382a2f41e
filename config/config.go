package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQL    = "pocketbase"
)

type Config struct {
	// Server configuration
	Port        string `env:"PORT" envDefault:"8090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	DebugErrors bool   `env:"DEBUG_ERRORS" envDefault:"false"`

	// Storage configuration
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`

	// Redis configuration
	RedisURL      string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// PubNub configuration; an empty publish key disables the mirror
	PubNubPublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `env:"PUBNUB_SECRET_KEY"`

	// Session configuration
	SessionSecret string        `env:"SESSION_SECRET" envDefault:"change-me"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Queue configuration
	ManagerSecretCost  int `env:"MANAGER_SECRET_COST" envDefault:"10"`
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	OutboxSize         int `env:"OUTBOX_SIZE" envDefault:"64"`

	// Cleanup configuration
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"30s"`

	// Monitoring
	EnableMetrics bool   `env:"ENABLE_METRICS" envDefault:"true"`
	MetricsPort   string `env:"METRICS_PORT" envDefault:"9090"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.StorageDriver {
	case StorageMemory, StorageRedis, StorageSQL:
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
