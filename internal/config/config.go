// Package config handles loading and validation of opsrelay.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// Load reads and parses opsrelay.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "opsrelay.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Secrets like tokens and API keys may be supplied as ${VAR} references.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Forge.BaseURL == "" {
		return fmt.Errorf("forge.baseUrl is required")
	}
	if cfg.Forge.Owner == "" {
		return fmt.Errorf("forge.owner is required")
	}
	if cfg.Forge.Repo == "" {
		return fmt.Errorf("forge.repo is required")
	}
	if cfg.Forge.RequestTimeout != "" {
		if _, err := time.ParseDuration(cfg.Forge.RequestTimeout); err != nil {
			return fmt.Errorf("forge.requestTimeout: %w", err)
		}
	}

	switch cfg.Store.Provider {
	case "", "memory":
	case "redis":
		if cfg.Store.Redis == nil {
			return fmt.Errorf("store.redis config is required when provider is redis")
		}
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("store.provider must be \"memory\" or \"redis\", got %q", cfg.Store.Provider)
	}

	if cfg.Retry != nil {
		if cfg.Retry.MaxRetries < 0 {
			return fmt.Errorf("retry.maxRetries must not be negative")
		}
		base, err := optionalDuration("retry.baseDelay", cfg.Retry.BaseDelay)
		if err != nil {
			return err
		}
		max, err := optionalDuration("retry.maxDelay", cfg.Retry.MaxDelay)
		if err != nil {
			return err
		}
		if base > 0 && max > 0 && base > max {
			return fmt.Errorf("retry.baseDelay must not exceed retry.maxDelay")
		}
		if cfg.Retry.ExponentialBase != 0 && cfg.Retry.ExponentialBase < 1 {
			return fmt.Errorf("retry.exponentialBase must be at least 1")
		}
	}

	if cfg.Poll != nil {
		for _, field := range []struct {
			name  string
			value string
		}{
			{"poll.interval", cfg.Poll.Interval},
			{"poll.lookback", cfg.Poll.Lookback},
			{"poll.grace", cfg.Poll.Grace},
		} {
			if _, err := optionalDuration(field.name, field.value); err != nil {
				return err
			}
		}
		if cfg.Poll.TimeoutSeconds < 0 {
			return fmt.Errorf("poll.timeoutSeconds must not be negative")
		}
	}

	return nil
}

func optionalDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
