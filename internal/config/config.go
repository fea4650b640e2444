// Package config loads the chat client and development backend settings from
// the environment, after an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds the client configuration.
type Config struct {
	BaseURL           string        `env:"CHAT_BASE_URL" validate:"required,url"`
	Token             string        `env:"CHAT_TOKEN"`
	DisplayName       string        `env:"CHAT_DISPLAY_NAME" envDefault:"guest"`
	UserID            string        `env:"CHAT_USER_ID"`
	ReconnectDelay    time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"5s" validate:"gt=0"`
	ReconnectMaxDelay time.Duration `env:"CHAT_RECONNECT_MAX_DELAY" envDefault:"0s" validate:"gte=0"`
	HeartbeatInterval time.Duration `env:"CHAT_HEARTBEAT_INTERVAL" envDefault:"4s" validate:"gt=0"`
	HeartbeatMisses   int           `env:"CHAT_HEARTBEAT_MISSES" envDefault:"3" validate:"gte=1"`
	TokenTTL          time.Duration `env:"CHAT_TOKEN_TTL" envDefault:"30s" validate:"gt=0"`
	ContentDir        string        `env:"CHAT_CONTENT_DIR"`
	ContentWatch      bool          `env:"CHAT_CONTENT_WATCH" envDefault:"false"`
	LogFormat         string        `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
}

// Exponential reports whether reconnect delays should grow.
func (c *Config) Exponential() bool {
	return c.ReconnectMaxDelay > c.ReconnectDelay
}

// DevServer holds the development backend configuration.
type DevServer struct {
	Addr         string        `env:"DEVSERVER_ADDR" envDefault:":8089" validate:"required"`
	SigningKey   string        `env:"DEVSERVER_SIGNING_KEY" envDefault:"dev-only-signing-key-change-me" validate:"min=16"`
	TokenTTL     time.Duration `env:"DEVSERVER_TOKEN_TTL" envDefault:"30s" validate:"gt=0"`
	HistoryLimit int           `env:"DEVSERVER_HISTORY_LIMIT" envDefault:"200" validate:"gte=1"`
	SendRate     float64       `env:"DEVSERVER_SEND_RATE" envDefault:"10" validate:"gt=0"`
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
}

// loadDotEnv reads .env when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
}

// Load reads the client configuration.
func Load() (*Config, error) {
	loadDotEnv()
	return Parse[Config](env.Options{})
}

// LoadDevServer reads the development backend configuration.
func LoadDevServer() (*DevServer, error) {
	loadDotEnv()
	return Parse[DevServer](env.Options{})
}

// Parse fills and validates a T from the environment described by opts.
func Parse[T any](opts env.Options) (*T, error) {
	cfg := new(T)
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
