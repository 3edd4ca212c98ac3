// Package config loads runtime settings from the environment, with an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read at startup.
type Config struct {
	DatabaseURL     string
	ServerPort      string
	AllowedOrigins  string
	JWTSecret       string
	OpenAIAPIKey    string
	OpenAIModel     string
	LogLevel        string
	LogFormat       string
	ConflictRetries int
	MigrateOnStart  bool
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Tests pass a map-backed getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getenv("DATABASE_URL"),
		ServerPort:      valueOr(getenv("SERVER_PORT"), "8080"),
		AllowedOrigins:  getenv("ALLOWED_ORIGINS"),
		JWTSecret:       getenv("JWT_SECRET"),
		OpenAIAPIKey:    getenv("OPENAI_API_KEY"),
		OpenAIModel:     valueOr(getenv("OPENAI_MODEL"), "gpt-4o"),
		LogLevel:        strings.ToLower(valueOr(getenv("LOG_LEVEL"), "info")),
		LogFormat:       strings.ToLower(valueOr(getenv("LOG_FORMAT"), "console")),
		ConflictRetries: 3,
	}

	if v := getenv("LEDGER_CONFLICT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("LEDGER_CONFLICT_RETRIES must be a non-negative integer, got %q", v)
		}
		cfg.ConflictRetries = n
	}

	if v := getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("MIGRATE_ON_START must be a boolean, got %q", v)
		}
		cfg.MigrateOnStart = b
	}

	switch cfg.LogFormat {
	case "console", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

// RequireDatabaseURL fails when no connection string is configured. Commands
// that never touch the database (token) skip it.
func (c *Config) RequireDatabaseURL() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return nil
}

// RequireJWTSecret fails when no signing secret is configured.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
