// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hivemux/hivemux/internal/auth"
	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/realtime"
	"github.com/hivemux/hivemux/internal/token"
)

// Router wires the gateway, broadcast, and operational handlers onto chi.
type Router struct {
	gateway   *Gateway
	broadcast *BroadcastHandler
	mw        *Middleware
	jwt       *auth.JWTManager
	registry  *realtime.Registry
}

// NewRouter builds the HTTP edge. codec and jwtManager may be nil when their
// secrets are unconfigured; the affected endpoints then fail closed.
func NewRouter(cfg *config.Config, codec *token.Codec, registry *realtime.Registry, jwtManager *auth.JWTManager) *Router {
	return &Router{
		gateway:   NewGateway(codec, registry, cfg),
		broadcast: NewBroadcastHandler(cfg.Security.BroadcastSecret, registry),
		mw:        NewMiddleware(&cfg.Security),
		jwt:       jwtManager,
		registry:  registry,
	}
}

// Setup assembles the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.mw.CORS())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", HealthLive)
		r.Get("/ready", HealthReady)
	})

	// WebSocket upgrade gateway. The metrics wrapper sees hijacked upgrades
	// as 101s; rejected upgrades carry their real status.
	r.Route("/api/ws", func(r chi.Router) {
		r.Use(router.mw.RateLimit())
		r.Use(PrometheusMetrics)
		r.Get("/connect", router.gateway.Connect)
		r.Get("/cart-connect", router.gateway.CartConnect)
		r.Get("/user-connect", router.gateway.UserConnect)
	})

	// Internal broadcast path, shared-secret authenticated.
	r.Group(func(r chi.Router) {
		r.Use(router.mw.RateLimit())
		r.Use(PrometheusMetrics)
		r.Post("/broadcast/{kind}/{id}", router.broadcast.Handle)
	})

	// Operational diagnostics, JWT-guarded.
	r.Group(func(r chi.Router) {
		r.Use(router.mw.RateLimit())
		r.Use(PrometheusMetrics)
		r.Use(auth.RequireJWT(router.jwt))
		r.Get("/api/v1/realtime/stats", StatsHandler(router.registry))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
