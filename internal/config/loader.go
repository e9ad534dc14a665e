package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if CFCACHE_CONFIG is set
//  3. env (prefix CFCACHE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv("CFCACHE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: CFCACHE_ADDR, CFCACHE_MONITOR_INTERVAL_S, ...
	// Keys map to the flat koanf tags on the struct; underscores preserved.
	envProvider := env.Provider("CFCACHE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "cfcache_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	switch {
	case cfg.Addr == "":
		return nil, fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case cfg.APIBase == "":
		return nil, fmt.Errorf("%w: api_base must not be empty", ErrInvalidConfig)
	case cfg.FetchTimeoutMS <= 0:
		return nil, fmt.Errorf("%w: fetch_timeout_ms must be positive", ErrInvalidConfig)
	case cfg.ContestRefreshIntervalS <= 0:
		return nil, fmt.Errorf("%w: contest_refresh_interval_s must be positive", ErrInvalidConfig)
	case cfg.MonitorIntervalS <= 0:
		return nil, fmt.Errorf("%w: monitor_interval_s must be positive", ErrInvalidConfig)
	}
	return &cfg, nil
}
