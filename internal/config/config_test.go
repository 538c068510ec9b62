package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("ActorIdleTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{ActorIdleSeconds: 1800}
		assert.Equal(t, 1800*time.Second, cfg.ActorIdleTTL())
	})

	t.Run("EvictionInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{EvictionIntervSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.EvictionInterval())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":               os.Getenv("PORT"),
		"DATABASE_URL":       os.Getenv("DATABASE_URL"),
		"REDIS_URL":          os.Getenv("REDIS_URL"),
		"PARTY_SECRET":       os.Getenv("PARTY_SECRET"),
		"COMMAND_RATE_LIMIT": os.Getenv("COMMAND_RATE_LIMIT"),
		"ACTOR_IDLE_SECONDS": os.Getenv("ACTOR_IDLE_SECONDS"),
		"LOG_LEVEL":          os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("COMMAND_RATE_LIMIT")
		os.Unsetenv("ACTOR_IDLE_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 120, cfg.CommandRateLimit)
		assert.Equal(t, 1800, cfg.ActorIdleSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("COMMAND_RATE_LIMIT", "30")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 30, cfg.CommandRateLimit)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required values", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects short secret in production", func(t *testing.T) {
		cfg := &Config{PartySecret: "short"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := &Config{PartySecret: "change-me-change-me-change-me-change-me"}
		assert.NoError(t, cfg.Validate(true))

		cfg = &Config{PartySecret: "change-me"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("allows empty secret outside production", func(t *testing.T) {
		cfg := &Config{}
		assert.NoError(t, cfg.Validate(false))
	})
}
