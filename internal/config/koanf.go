// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

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
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hivemux/config.yaml",
	"/etc/hivemux/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if it exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env vars arrive as strings; split known slice fields on commas.
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML), nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envVarMap maps recognized environment variables to koanf config paths.
// Unlisted variables are ignored so unrelated environment noise can never
// alter the configuration.
var envVarMap = map[string]string{
	"HTTP_HOST":                 "server.host",
	"HTTP_PORT":                 "server.port",
	"HTTP_TIMEOUT":              "server.timeout",
	"ENVIRONMENT":               "server.environment",
	"TOKEN_SECRET":              "security.token_secret",
	"BROADCAST_SECRET":          "security.broadcast_secret",
	"JWT_SECRET":                "security.jwt_secret",
	"SESSION_TIMEOUT":           "security.session_timeout",
	"RATE_LIMIT_REQS":           "security.rate_limit_reqs",
	"RATE_LIMIT_WINDOW":         "security.rate_limit_window",
	"RATE_LIMIT_DISABLED":       "security.rate_limit_disabled",
	"CORS_ORIGINS":              "security.cors_origins",
	"REALTIME_WRITE_WAIT":       "realtime.write_wait",
	"REALTIME_PONG_WAIT":        "realtime.pong_wait",
	"REALTIME_MAX_MESSAGE_SIZE": "realtime.max_message_size",
	"REALTIME_SEND_BUFFER":      "realtime.send_buffer",
	"REALTIME_ACTOR_IDLE_TTL":   "realtime.actor_idle_ttl",
	"REALTIME_REAPER_INTERVAL":  "realtime.reaper_interval",
	"REALTIME_INBOUND_RATE":     "realtime.inbound_rate",
	"REALTIME_INBOUND_BURST":    "realtime.inbound_burst",
	"LOG_LEVEL":                 "logging.level",
	"LOG_FORMAT":                "logging.format",
	"LOG_CALLER":                "logging.caller",
}

// envTransformFunc maps environment variable names to koanf config paths.
// Returning "" tells the env provider to skip the variable.
func envTransformFunc(key string) string {
	return envVarMap[strings.ToUpper(key)]
}
