// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Command server runs the Hivemux realtime fan-out service: the WebSocket
// upgrade gateway, the per-entity actor registry, and the internal broadcast
// endpoint, under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivemux/hivemux/internal/api"
	"github.com/hivemux/hivemux/internal/auth"
	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/realtime"
	"github.com/hivemux/hivemux/internal/supervisor"
	"github.com/hivemux/hivemux/internal/supervisor/services"
	"github.com/hivemux/hivemux/internal/token"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).
		Str("environment", cfg.Server.Environment).Msg("starting hivemux")

	codec, err := token.NewCodec(cfg.Security.TokenSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	// The JWT manager is optional: without it the diagnostics endpoints
	// fail closed instead of failing open.
	var jwtManager *auth.JWTManager
	if cfg.Security.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			return fmt.Errorf("failed to initialize jwt manager: %w", err)
		}
	} else {
		logging.Warn().Msg("JWT_SECRET not set; diagnostics endpoints will reject all requests")
	}

	registry := realtime.NewRegistry(cfg.Realtime)
	router := api.NewRouter(cfg, codec, registry, jwtManager)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddRealtimeService(services.NewReaperService(registry))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop within timeout")
		}
	}

	logging.Info().Msg("hivemux stopped")
	return nil
}
