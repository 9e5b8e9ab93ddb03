// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
)

// Middleware builds the chi middleware stack from security configuration.
type Middleware struct {
	cors              func(http.Handler) http.Handler
	rateLimitReqs     int
	rateLimitWindow   time.Duration
	rateLimitDisabled bool
}

// NewMiddleware builds the CORS and rate-limit middleware from configuration.
// An empty origin list means no cross-origin browser access; it does not
// block non-browser clients, which never send an Origin header.
func NewMiddleware(cfg *config.SecurityConfig) *Middleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Internal-Secret"},
		AllowCredentials: false,
		MaxAge:           86400,
	})

	return &Middleware{
		cors:              corsHandler,
		rateLimitReqs:     cfg.RateLimitReqs,
		rateLimitWindow:   cfg.RateLimitWindow,
		rateLimitDisabled: cfg.RateLimitDisabled,
	}
}

// CORS returns the go-chi/cors handler.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns a per-IP limiter for the upgrade and broadcast
// endpoints, or a pass-through when rate limiting is disabled.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	if m.rateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.rateLimitReqs,
		m.rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
	)
}

// RequestIDWithLogging attaches a request ID to the context so handlers can
// log with logging.Ctx, and echoes it in the X-Request-ID header.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrometheusMetrics records request duration and status per method and
// route pattern.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked connections (WebSocket upgrades) never write a status
			// through the wrapper.
			status = http.StatusSwitchingProtocols
		}
		// Route patterns keep label cardinality bounded; raw paths would not.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(r.Method, path, status, time.Since(start))
	})
}
