// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"fluxgate.yaml",
	"fluxgate.yml",
	"/etc/fluxgate/fluxgate.yaml",
	"/etc/fluxgate/fluxgate.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "FLUXGATE_CONFIG"

// envPrefix is the prefix for environment variable overrides, e.g.
// FLUXGATE_ENGINE__CACHE_DIR=/var/cache maps to engine.cache_dir.
const envPrefix = "FLUXGATE_"

// Load builds the configuration: defaults, then the config file if one is
// found, then environment overrides. The result is validated before it is
// returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// FLUXGATE_ENGINE__CACHE_DIR -> engine.cache_dir. A double underscore
	// separates nesting levels so that single underscores survive inside
	// key names.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyCachingDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// findConfigFile returns the first existing config file path, honoring the
// FLUXGATE_CONFIG override.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// applyCachingDefaults fills zero-valued caching fields on each North from
// the package defaults.
func applyCachingDefaults(cfg *Config) {
	def := DefaultCaching()
	for i := range cfg.Norths {
		c := &cfg.Norths[i].Caching
		if c.MaxPendingSize == 0 {
			c.MaxPendingSize = def.MaxPendingSize
		}
		if c.MaxRetry == 0 {
			c.MaxRetry = def.MaxRetry
		}
		if c.RetryInterval == 0 {
			c.RetryInterval = def.RetryInterval
		}
		if c.MaxRetryInterval == 0 {
			c.MaxRetryInterval = def.MaxRetryInterval
		}
		if c.MaxSendCount == 0 {
			c.MaxSendCount = def.MaxSendCount
		}
	}
}
