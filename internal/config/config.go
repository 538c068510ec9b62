package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "party", "password",
}

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisURL              string `env:"REDIS_URL,required"`
	PartySecret           string `env:"PARTY_SECRET"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	CommandRateLimit      int    `env:"COMMAND_RATE_LIMIT" envDefault:"120"`
	ActorIdleSeconds      int    `env:"ACTOR_IDLE_SECONDS" envDefault:"1800"`
	EvictionIntervSeconds int    `env:"EVICTION_INTERVAL_SECONDS" envDefault:"300"`
}

func (c *Config) ActorIdleTTL() time.Duration {
	return time.Duration(c.ActorIdleSeconds) * time.Second
}

func (c *Config) EvictionInterval() time.Duration {
	return time.Duration(c.EvictionIntervSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("PARTY_SECRET", c.PartySecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	} else if c.PartySecret == "" {
		log.Warn().Msg("PARTY_SECRET is empty: privileged broadcast trigger is disabled")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: go run scripts/gen-secret.go)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
