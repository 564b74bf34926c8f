package config

import (
	"fmt"
	"strings"
)

// Validate checks the loaded configuration for settings that are unsafe to
// run with. In production the findings are fatal; in development they come
// back as warnings for the entrypoint to log.
func (c *Config) Validate() ([]string, error) {
	var problems []string

	if c.JWKSURL == "" {
		problems = append(problems, "AUTH_JWKS_URL not set: control plane runs with a fixed local owner")
	}
	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		problems = append(problems, "DATABASE_URL is a sqlite path: single-writer, local file only")
	}
	if (c.ProvisionAPIURL == "") != (c.ProvisionAPIKey == "") {
		problems = append(problems, "PROVISION_API_URL and PROVISION_API_KEY must be set together")
	}

	if c.IsProduction() && len(problems) > 0 {
		return nil, fmt.Errorf("unsafe production configuration: %s", strings.Join(problems, "; "))
	}
	return problems, nil
}
