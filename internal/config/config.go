// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for the chat server.
type Config struct {
	Addr      string `env:"CHATCORE_ADDR" envDefault:":3000"`
	DBPath    string `env:"CHATCORE_DB_PATH" envDefault:"chatcore.db"`
	JWTSecret string `env:"JWT_SECRET,required"`
	UploadDir string `env:"CHATCORE_UPLOAD_DIR" envDefault:"uploads"`
	LogLevel  string `env:"CHATCORE_LOG_LEVEL" envDefault:"info"`

	// CORS origins for the REST surface; empty allows any origin.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	// Per-IP rate limit for the REST surface.
	RateRPS   float64 `env:"CHATCORE_RATE_RPS" envDefault:"5"`
	RateBurst int     `env:"CHATCORE_RATE_BURST" envDefault:"10"`

	// Default room created lazily on first access.
	RoomKey   string `env:"CHATCORE_ROOM_KEY" envDefault:"global"`
	RoomTitle string `env:"CHATCORE_ROOM_TITLE" envDefault:"General chat"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
