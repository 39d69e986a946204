package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Backend
	BackendBaseURL string        `env:"BACKEND_BASE_URL" envDefault:"http://localhost:5000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Storage. An empty table keeps session state in memory.
	StateTable string        `env:"STATE_TABLE"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Google sign-in, loaded from SSM under ParamPrefix when set.
	ParamPrefix      string `env:"PARAM_PREFIX"`
	OAuthRedirectURL string `env:"OAUTH_REDIRECT_URL" envDefault:"http://localhost:5173/auth/success"`

	// Chat widget
	ChatFeatures  []string `env:"CHAT_FEATURES" envSeparator:"," envDefault:"image,voice,reset"`
	PreviewLimit  int      `env:"CHAT_PREVIEW_LIMIT" envDefault:"600"`
	FallbackReply string   `env:"CHAT_FALLBACK_REPLY" envDefault:"⚠️ Sorry, something went wrong. Please try again."`
	ViewCacheSize int      `env:"VIEW_CACHE_SIZE" envDefault:"1024"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.BackendBaseURL) == "" {
		return errors.New("config: BACKEND_BASE_URL must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: REQUEST_TIMEOUT must be positive")
	}
	if c.PreviewLimit <= 0 {
		return errors.New("config: CHAT_PREVIEW_LIMIT must be positive")
	}
	if c.ViewCacheSize <= 0 {
		return errors.New("config: VIEW_CACHE_SIZE must be positive")
	}
	for _, f := range c.ChatFeatures {
		switch strings.TrimSpace(f) {
		case "image", "voice", "reset", "":
		default:
			return fmt.Errorf("config: unknown chat feature %q", f)
		}
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
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
