package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ARRIETY_"

// ApplyEnv overlays ARRIETY_* environment variables onto cfg. Unset
// variables leave the loaded values untouched.
func ApplyEnv(cfg *Config) error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
