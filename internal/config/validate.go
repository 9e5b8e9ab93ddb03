// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package config

import (
	"errors"
	"fmt"
)

// minProductionSecretLen is the minimum secret length enforced when
// server.environment is "production".
const minProductionSecretLen = 32

// Validation errors surfaced by Validate. Secrets fail closed: an unset
// secret is a configuration error, never an "auth disabled" mode.
var (
	ErrTokenSecretRequired     = errors.New("TOKEN_SECRET is required but was empty")
	ErrBroadcastSecretRequired = errors.New("BROADCAST_SECRET is required but was empty")
)

// Validate checks the configuration for operator errors. It returns the
// first problem found.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateRealtime(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	switch c.Server.Environment {
	case "development", "production":
		return nil
	default:
		return fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment)
	}
}

func (c *Config) validateSecurity() error {
	if c.Security.TokenSecret == "" {
		return ErrTokenSecretRequired
	}
	if c.Security.BroadcastSecret == "" {
		return ErrBroadcastSecretRequired
	}

	if c.Server.Environment == "production" {
		if len(c.Security.TokenSecret) < minProductionSecretLen {
			return fmt.Errorf("security.token_secret must be at least %d characters in production", minProductionSecretLen)
		}
		if len(c.Security.BroadcastSecret) < minProductionSecretLen {
			return fmt.Errorf("security.broadcast_secret must be at least %d characters in production", minProductionSecretLen)
		}
		if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < minProductionSecretLen {
			return fmt.Errorf("security.jwt_secret must be at least %d characters in production", minProductionSecretLen)
		}
	}

	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %s", c.Security.RateLimitWindow)
		}
	}
	return nil
}

func (c *Config) validateRealtime() error {
	r := c.Realtime
	if r.WriteWait <= 0 {
		return fmt.Errorf("realtime.write_wait must be positive, got %s", r.WriteWait)
	}
	if r.PongWait <= 0 {
		return fmt.Errorf("realtime.pong_wait must be positive, got %s", r.PongWait)
	}
	if r.MaxMessageSize < 1 {
		return fmt.Errorf("realtime.max_message_size must be at least 1, got %d", r.MaxMessageSize)
	}
	if r.SendBuffer < 1 {
		return fmt.Errorf("realtime.send_buffer must be at least 1, got %d", r.SendBuffer)
	}
	if r.ActorIdleTTL <= 0 {
		return fmt.Errorf("realtime.actor_idle_ttl must be positive, got %s", r.ActorIdleTTL)
	}
	if r.ReaperInterval <= 0 {
		return fmt.Errorf("realtime.reaper_interval must be positive, got %s", r.ReaperInterval)
	}
	if r.InboundRate <= 0 {
		return fmt.Errorf("realtime.inbound_rate must be positive, got %v", r.InboundRate)
	}
	if r.InboundBurst < 1 {
		return fmt.Errorf("realtime.inbound_burst must be at least 1, got %d", r.InboundBurst)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
}
