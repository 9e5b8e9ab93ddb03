// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Package config provides layered configuration for Hivemux using Koanf v2.
//
// Precedence (highest wins): environment variables > YAML config file >
// built-in defaults. The two shared secrets (token signing, internal
// broadcast) have no defaults and validation fails closed when they are
// unset.
package config

import "time"

// Config is the root configuration for the Hivemux server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Timeout bounds request header reads and graceful shutdown.
	Timeout time.Duration `koanf:"timeout"`

	// Environment is "development" or "production". Production tightens
	// secret-strength validation.
	Environment string `koanf:"environment"`
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// TokenSecret signs and verifies WebSocket upgrade bearer tokens
	// (HMAC-SHA256). Required; the gateway fails closed when empty.
	TokenSecret string `koanf:"token_secret"`

	// BroadcastSecret authorizes the internal POST /broadcast channel.
	// Required; the broadcast handler fails closed when empty.
	BroadcastSecret string `koanf:"broadcast_secret"`

	// JWTSecret guards the diagnostics endpoints (HS256 bearer tokens).
	// Optional; when empty those endpoints return 500 rather than opening up.
	JWTSecret string `koanf:"jwt_secret"`

	// SessionTimeout is the validity window for diagnostics JWTs.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// RealtimeConfig holds WebSocket and actor lifecycle tuning.
type RealtimeConfig struct {
	// WriteWait is the per-frame write deadline.
	WriteWait time.Duration `koanf:"write_wait"`

	// PongWait is how long a connection may stay silent before the read
	// deadline expires. Protocol pings are sent at 9/10 of this interval.
	PongWait time.Duration `koanf:"pong_wait"`

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full at broadcast time is dropped as dead.
	SendBuffer int `koanf:"send_buffer"`

	// ActorIdleTTL is how long an actor with zero connections survives
	// before the reaper evicts it.
	ActorIdleTTL time.Duration `koanf:"actor_idle_ttl"`

	// ReaperInterval is how often idle actors are swept.
	ReaperInterval time.Duration `koanf:"reaper_interval"`

	// InboundRate and InboundBurst bound client frames per second per
	// connection. Keep-alive fast-path frames are exempt.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`
}

// PingPeriod returns the interval for protocol-level pings, derived from
// PongWait so a healthy peer always answers before the deadline.
func (r RealtimeConfig) PingPeriod() time.Duration {
	return r.PongWait * 9 / 10
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Secrets are
// intentionally empty; they must come from the file or environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8787,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			TokenSecret:       "",
			BroadcastSecret:   "",
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Realtime: RealtimeConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 64 * 1024, // 64 KB
			SendBuffer:     256,
			ActorIdleTTL:   10 * time.Minute,
			ReaperInterval: 1 * time.Minute,
			InboundRate:    20,
			InboundBurst:   40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
