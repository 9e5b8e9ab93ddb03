// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Package metrics provides Prometheus instrumentation for Hivemux:
// connection lifecycle, broadcast fan-out, frame handling, and HTTP latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Actor and connection lifecycle

	ActorsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemux_actors_active",
			Help: "Current number of live entity actors",
		},
		[]string{"kind"},
	)

	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemux_ws_connections_active",
			Help: "Current number of attached WebSocket connections",
		},
		[]string{"kind"},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_ws_connections_total",
			Help: "Total number of accepted WebSocket upgrades",
		},
		[]string{"kind"},
	)

	UpgradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_ws_upgrades_rejected_total",
			Help: "Total number of rejected upgrade attempts",
		},
		[]string{"kind", "reason"}, // missing_token, invalid_token, invalid_identity, not_websocket, config
	)

	// Fan-out

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_broadcasts_total",
			Help: "Total number of broadcast events fanned out",
		},
		[]string{"kind"},
	)

	BroadcastsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_broadcast_requests_total",
			Help: "Total number of accepted HTTP broadcast requests",
		},
		[]string{"kind"},
	)

	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_broadcast_deliveries_total",
			Help: "Total number of per-socket broadcast deliveries",
		},
		[]string{"kind"},
	)

	BroadcastSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_broadcast_send_failures_total",
			Help: "Total number of per-socket delivery failures (dead or backlogged connections)",
		},
		[]string{"kind"},
	)

	// Frame handling

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_ws_frames_received_total",
			Help: "Total number of client frames dispatched to a frame router",
		},
		[]string{"kind"},
	)

	ErrorFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_ws_error_frames_total",
			Help: "Total number of error frames sent to clients",
		},
		[]string{"code"},
	)

	FramesRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemux_ws_frames_rate_limited_total",
			Help: "Total number of inbound frames dropped by the per-connection rate limiter",
		},
		[]string{"kind"},
	)

	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivemux_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveHTTPRequest records one HTTP request observation.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}
