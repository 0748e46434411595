// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	// ServiceName labels logs and metrics.
	ServiceName string `env:"SERVICE_NAME" envDefault:"b24bot"`
	// TelegramToken authorizes the bot against the Telegram API.
	TelegramToken string `env:"TELEGRAM_TOKEN,required"`
	// BackendURL is the credential service root.
	BackendURL string `env:"BACKEND_URL" envDefault:"http://localhost:8000/api"`
	// RedisAddr enables the Redis session store when set. Empty
	// means sessions live in process memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// OpsAddr serves health checks and metrics.
	OpsAddr string `env:"OPS_ADDR" envDefault:":9090"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings env tags cannot express.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN must be set")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL %q is not an absolute URL", c.BackendURL)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}
