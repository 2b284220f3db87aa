package config

import (
	"fmt"

	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// Validate checks configuration invariants before the service starts.
func Validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Log.Format)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPM < 1 {
		return fmt.Errorf("rate_limit_rpm must be at least 1")
	}

	if cfg.Workflow.MaxIterations < 0 {
		return fmt.Errorf("max_iterations cannot be negative")
	}

	switch cfg.State.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("invalid state backend: %s", cfg.State.Backend)
	}

	chains := map[string][]string{
		"research": cfg.Chains.Research,
		"plan":     cfg.Chains.Plan,
		"code":     cfg.Chains.Code,
		"design":   cfg.Chains.Design,
		"review":   cfg.Chains.Review,
	}
	for role, models := range chains {
		if len(models) == 0 {
			return fmt.Errorf("chain for role %s is empty", role)
		}
		for _, m := range models {
			if provider.KindOfModel(m) == provider.KindUnknown {
				return fmt.Errorf("chain for role %s references unknown provider in model %q", role, m)
			}
		}
	}

	return nil
}
