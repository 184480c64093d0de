package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	APIKeysRaw             string `env:"API_KEYS"`
	RateLimitPerMinute     int    `env:"RATE_LIMIT_PER_MINUTE,default=100"`
	RateLimitWindowSeconds int    `env:"RATE_LIMIT_WINDOW_SECONDS,default=60"`
	RabbitMQURL            string `env:"RABBITMQ_URL,required=true"`
	RabbitMQExchange       string `env:"RABBITMQ_EXCHANGE,default=notifications.direct"`
	RedisURL               string `env:"REDIS_URL,required=true"`
	DatabaseDSN            string `env:"DATABASE_DSN"`
	PublishMaxAttempts     int    `env:"PUBLISH_MAX_ATTEMPTS,default=3"`
	PublishTimeoutMS       int    `env:"PUBLISH_TIMEOUT_MS,default=2000"`
	IdempotencyTTLSeconds  int    `env:"IDEMPOTENCY_TTL_SECONDS,default=86400"`
	IdempotencyLockSeconds int    `env:"IDEMPOTENCY_LOCK_SECONDS,default=30"`
	StatusTTLSeconds       int    `env:"STATUS_TTL_SECONDS,default=86400"`
	HealthTimeoutMS        int    `env:"HEALTH_TIMEOUT_MS,default=2000"`
	RelayConcurrency       int    `env:"RELAY_CONCURRENCY,default=4"`
	APIPort                int    `env:"API_PORT,default=8080"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
	ServiceName            string `env:"SERVICE_NAME,default=api-gateway"`
}

// Load reads an optional .env file, then the process environment. Variables
// already present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.RateLimitPerMinute <= 0:
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMinute)
	case c.RateLimitWindowSeconds <= 0:
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimitWindowSeconds)
	case c.PublishMaxAttempts <= 0:
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be positive, got %d", c.PublishMaxAttempts)
	case c.IdempotencyLockSeconds <= 0 || c.IdempotencyTTLSeconds <= 0:
		return fmt.Errorf("idempotency TTLs must be positive")
	}
	return nil
}

// APIKeys splits API_KEYS on commas, dropping blanks and duplicates.
func (c *Config) APIKeys() []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, part := range strings.Split(c.APIKeysRaw, ",") {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

func (c *Config) IdempotencyLockTTL() time.Duration {
	return time.Duration(c.IdempotencyLockSeconds) * time.Second
}

func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.StatusTTLSeconds) * time.Second
}

func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutMS) * time.Millisecond
}
