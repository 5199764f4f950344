// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"rentsign/agreement"
)

// Config holds all runtime configuration values. Each field corresponds to an
// environment variable.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// RedisAddr and AMQPURL are optional; empty values disable the status
	// cache and the notification relay respectively.
	RedisAddr     string
	RedisPassword string
	AMQPURL       string

	// FirstSigner selects the signing order policy (tenant or landlord).
	FirstSigner agreement.Role

	// DocumentTimeout bounds how long a sign call waits on PDF rendering.
	DocumentTimeout time.Duration
}

// Load reads configuration from the environment. A local .env file is
// applied first when present so development setups need no exported
// variables. Required variables produce an error rather than a partial
// config.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:           getenv("APP_ENV", "dev"),
		Port:          getenv("APP_PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		AMQPURL:       os.Getenv("AMQP_URL"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	switch signer := os.Getenv("AGREEMENT_FIRST_SIGNER"); signer {
	case "", string(agreement.RoleTenant):
		cfg.FirstSigner = agreement.RoleTenant
	case string(agreement.RoleLandlord):
		cfg.FirstSigner = agreement.RoleLandlord
	default:
		return Config{}, fmt.Errorf("config: invalid AGREEMENT_FIRST_SIGNER %q", signer)
	}

	cfg.DocumentTimeout = agreement.DefaultGenerationTimeout
	if raw := os.Getenv("DOCUMENT_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse DOCUMENT_TIMEOUT: %w", err)
		}
		cfg.DocumentTimeout = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
