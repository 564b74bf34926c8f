// Package config assembles the process configuration from environment
// variables. The .env file (if any) is loaded by the entrypoint before
// Load is called.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
)

// Config holds everything the server needs to start. Container resource
// limits are not configurable; they are a fixed security floor (see
// internal/docker).
type Config struct {
	Environment string
	Port        int

	// DatabaseURL is a postgres DSN (postgres://...) or a sqlite file path.
	DatabaseURL string

	// DockerHost overrides container engine discovery when set.
	DockerHost string
	// BaseRuntimeImage is the shared runtime image used when a project has
	// no dependency manifest, and the FROM line of every per-project build.
	BaseRuntimeImage string

	// RedisURL enables the shared gateway cache when set; empty means the
	// in-memory fallback.
	RedisURL string

	// JWKSURL is the identity provider's key-set endpoint. Empty mounts the
	// control plane with a fixed local owner instead of bearer auth, for
	// single-user dev deployments.
	JWKSURL string
	Issuer  string

	// ProvisionAPIURL/Key configure the external managed-database
	// provisioning service. Empty disables the database endpoints.
	ProvisionAPIURL string
	ProvisionAPIKey string

	// GatewayMaxBody caps request bodies forwarded into functions.
	GatewayMaxBody int64
	// LogCaptureLimit caps captured container stdout/stderr per stream.
	LogCaptureLimit int64

	RateLimitRPS   float64
	RateLimitBurst int

	InvokeTimeout time.Duration

	CORSOrigins string
}

// Load reads configuration from the environment, applying defaults for
// everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:      getEnv("ENVIRONMENT", "development"),
		Port:             getEnvInt("PORT", 8000),
		DatabaseURL:      getEnv("DATABASE_URL", "clowdy.db"),
		DockerHost:       os.Getenv("DOCKER_HOST"),
		BaseRuntimeImage: getEnv("BASE_RUNTIME_IMAGE", "clowdy-python-runtime"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWKSURL:          os.Getenv("AUTH_JWKS_URL"),
		Issuer:           os.Getenv("AUTH_ISSUER"),
		ProvisionAPIURL:  os.Getenv("PROVISION_API_URL"),
		ProvisionAPIKey:  os.Getenv("PROVISION_API_KEY"),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 40),
		InvokeTimeout:    30 * time.Second,
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
	}

	var err error
	if cfg.GatewayMaxBody, err = getEnvBytes("GATEWAY_MAX_BODY", "1m"); err != nil {
		return nil, err
	}
	if cfg.LogCaptureLimit, err = getEnvBytes("LOG_CAPTURE_LIMIT", "256k"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBytes parses human-readable sizes ("1m", "256k") the same way the
// container engine does.
func getEnvBytes(key, defaultValue string) (int64, error) {
	raw := getEnv(key, defaultValue)
	n, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, raw, err)
	}
	return n, nil
}
