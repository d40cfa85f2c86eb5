// Package config loads the runtime configuration from an optional YAML
// file and TALON_-prefixed environment variables, layered over the tier
// defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/open-leads/talon/internal/domain"
)

// DefaultPath is the config file consulted when no explicit path is given.
// A missing default file is not an error; env vars and defaults apply.
const DefaultPath = "talon.yaml"

// EnvPrefix namespaces the environment variables that override config
// values. A double underscore separates nesting levels, so
// TALON_SERVER__PORT maps to server.port.
const EnvPrefix = "TALON_"

// Load builds the configuration. Precedence, lowest to highest: tier
// defaults, YAML file, environment variables. An explicitly given path
// must exist; the default path may be absent.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// The tier picks the default stack the overrides layer onto.
	cfg := domain.DefaultConfig()
	if domain.Tier(k.String("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unknown event bus type %q", cfg.EventBus.Type)
	}
	return nil
}
