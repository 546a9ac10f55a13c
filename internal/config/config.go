package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings, loaded once at startup.
type Config struct {
	Port        int    `env:"KODA_PORT" envDefault:"8600"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-pro"`

	// NATS is optional; without it the service runs with no event
	// side channel (no speech rendering downstream).
	NatsURL   string `env:"NATS_URL"`
	NatsToken string `env:"NATS_TOKEN"`

	// Per-instance request budget for the HTTP API.
	RateLimit float64 `env:"KODA_RATE_LIMIT" envDefault:"25"`
	RateBurst int     `env:"KODA_RATE_BURST" envDefault:"50"`

	// Background summary compaction. A zero interval disables the job.
	CompactInterval  time.Duration `env:"KODA_COMPACT_INTERVAL" envDefault:"0"`
	CompactThreshold int           `env:"KODA_COMPACT_THRESHOLD" envDefault:"4000"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}
