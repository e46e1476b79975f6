// Package config reads service settings from the environment.
//
// The small helpers cover one-off lookups in main. Load fills a tagged struct through
// cleanenv, optionally layering a YAML or .env file named by CONFIG_FILE underneath the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

// Load populates cfg from its env, env-default and env-required tags.
func Load(cfg any) error {
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		return nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Usage renders the documented variables of cfg, for -h style output.
func Usage(cfg any) string {
	text, err := cleanenv.GetDescription(cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
