package config_test

import (
	"testing"

	"equipment-ledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(envFrom(map[string]string{
		"DATABASE_URL": "postgres://localhost/ledger",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "gpt-4o", cfg.OpenAIModel)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 3, cfg.ConflictRetries)
	assert.False(t, cfg.MigrateOnStart)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(envFrom(map[string]string{
		"DATABASE_URL":            "postgres://localhost/ledger",
		"SERVER_PORT":             "9090",
		"LOG_LEVEL":               "DEBUG",
		"LOG_FORMAT":              "json",
		"LEDGER_CONFLICT_RETRIES": "0",
		"MIGRATE_ON_START":        "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 0, cfg.ConflictRetries)
	assert.True(t, cfg.MigrateOnStart)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"negative retries", map[string]string{"DATABASE_URL": "x", "LEDGER_CONFLICT_RETRIES": "-1"}},
		{"non-numeric retries", map[string]string{"DATABASE_URL": "x", "LEDGER_CONFLICT_RETRIES": "many"}},
		{"bad migrate flag", map[string]string{"DATABASE_URL": "x", "MIGRATE_ON_START": "sometimes"}},
		{"bad log format", map[string]string{"DATABASE_URL": "x", "LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.FromEnv(envFrom(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestRequireJWTSecret(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, cfg.RequireJWTSecret())

	cfg.JWTSecret = "s3cret"
	assert.NoError(t, cfg.RequireJWTSecret())
}

func TestRequireDatabaseURL(t *testing.T) {
	cfg, err := config.FromEnv(envFrom(map[string]string{"JWT_SECRET": "s3cret"}))
	require.NoError(t, err, "loading must not need a database")
	assert.Error(t, cfg.RequireDatabaseURL())

	cfg.DatabaseURL = "postgres://localhost/ledger"
	assert.NoError(t, cfg.RequireDatabaseURL())
}
