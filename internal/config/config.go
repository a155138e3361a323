// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings for the attendance service.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"attendance"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// TicketSecret signs check-in tokens. Required outside local dev.
	TicketSecret string `env:"TICKET_SIGNING_SECRET" envDefault:"dev-only-ticket-secret"`

	// ProviderSecret is the shared key used to verify provider webhook
	// signatures and authorize API calls to the payment provider.
	ProviderSecret  string `env:"PAYMENT_PROVIDER_SECRET"`
	ProviderBaseURL string `env:"PAYMENT_PROVIDER_URL" envDefault:"https://api.paystack.co"`

	ReminderInterval time.Duration `env:"REMINDER_SWEEP_INTERVAL" envDefault:"1h"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
