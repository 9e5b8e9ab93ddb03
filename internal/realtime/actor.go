// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
)

// Actor holds the live connection set for one logical entity. It keeps no
// message history and no state beyond the connections and their
// attachments, so an actor that loses all connections can be evicted and
// recreated at zero cost.
type Actor struct {
	key    string
	kind   Kind
	router FrameRouter
	cfg    config.RealtimeConfig

	mu         sync.RWMutex
	conns      map[*Conn]struct{}
	emptySince time.Time
}

func newActor(kind Kind, id int64, router FrameRouter, cfg config.RealtimeConfig) *Actor {
	return &Actor{
		key:        EntityKey(kind, id),
		kind:       kind,
		router:     router,
		cfg:        cfg,
		conns:      make(map[*Conn]struct{}),
		emptySince: time.Now(),
	}
}

// Key returns the actor's entity key, e.g. "conversation-42".
func (a *Actor) Key() string { return a.key }

// Kind returns the actor's entity kind.
func (a *Actor) Kind() Kind { return a.kind }

// Attach accepts an upgraded connection with its immutable attachment and
// starts serving it.
func (a *Actor) Attach(ws *websocket.Conn, att Attachment) (*Conn, error) {
	if att == nil || att.Kind() != a.kind {
		return nil, fmt.Errorf("attachment kind does not match actor %s", a.key)
	}
	if err := att.Validate(); err != nil {
		return nil, fmt.Errorf("invalid attachment for %s: %w", a.key, err)
	}

	c := newConn(a, ws, att, a.cfg)

	a.mu.Lock()
	a.conns[c] = struct{}{}
	total := len(a.conns)
	a.mu.Unlock()

	metrics.ConnectionsActive.WithLabelValues(string(a.kind)).Inc()
	metrics.ConnectionsTotal.WithLabelValues(string(a.kind)).Inc()
	logging.Info().Str("entity_key", a.key).Object("attachment", att).
		Int("total_connections", total).Msg("websocket connection attached")

	c.start()
	return c, nil
}

// detach removes a connection from the set. Safe to call more than once;
// only the first call closes the outbound queue.
func (a *Actor) detach(c *Conn) {
	a.mu.Lock()
	_, present := a.conns[c]
	if present {
		delete(a.conns, c)
		close(c.send)
		if len(a.conns) == 0 {
			a.emptySince = time.Now()
		}
	}
	remaining := len(a.conns)
	a.mu.Unlock()

	if !present {
		return
	}
	metrics.ConnectionsActive.WithLabelValues(string(a.kind)).Dec()
	logging.Info().Str("entity_key", a.key).Object("attachment", c.attachment).
		Int("total_connections", remaining).Msg("websocket connection detached")
}

// Broadcast serializes event once and fans it out to every attached
// connection. Returns the number of successful deliveries.
func (a *Actor) Broadcast(event any) (int, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode broadcast event: %w", err)
	}
	return a.BroadcastRaw(frame), nil
}

// BroadcastRaw fans out a pre-serialized JSON frame to every attached
// connection. Delivery is independent and best-effort: a connection whose
// queue is full is dropped as dead, and the frame still reaches every other
// connection. Broadcasting to zero connections is a silent no-op.
func (a *Actor) BroadcastRaw(frame []byte) int {
	return a.fanOut(frame, nil)
}

// BroadcastToOthers fans out event to every attached connection except the
// sender.
func (a *Actor) BroadcastToOthers(sender *Conn, event any) (int, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode broadcast event: %w", err)
	}
	return a.fanOut(frame, sender), nil
}

// fanOut delivers one frame to all connections except skip. Iteration is in
// connection-ID order so delivery order is deterministic within one call.
func (a *Actor) fanOut(frame []byte, skip *Conn) int {
	eventType := eventTypeOf(frame)

	a.mu.Lock()
	targets := make([]*Conn, 0, len(a.conns))
	for c := range a.conns {
		if c != skip {
			targets = append(targets, c)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	delivered := 0
	var dead []*Conn
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		// Queue full: the peer stopped draining. Log with the connection's
		// identity and the event type, skip it, and keep delivering.
		logging.Warn().Str("entity_key", a.key).Object("attachment", c.attachment).
			Str("event_type", eventType).Msg("broadcast delivery failed, dropping connection")
		metrics.BroadcastSendFailures.WithLabelValues(string(a.kind)).Inc()
		dead = append(dead, c)
	}
	for _, c := range dead {
		delete(a.conns, c)
		close(c.send)
	}
	if len(dead) > 0 && len(a.conns) == 0 {
		a.emptySince = time.Now()
	}
	a.mu.Unlock()

	for range dead {
		metrics.ConnectionsActive.WithLabelValues(string(a.kind)).Dec()
	}

	metrics.BroadcastsTotal.WithLabelValues(string(a.kind)).Inc()
	metrics.BroadcastDeliveries.WithLabelValues(string(a.kind)).Add(float64(delivered))
	return delivered
}

// ConnectionCount returns the number of attached connections. Diagnostics
// only; never used for correctness decisions.
func (a *Actor) ConnectionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns)
}

// touch resets the idle clock on an actor with no connections. Called when
// the registry resolves the actor, so it cannot be reaped between resolution
// and the first attach.
func (a *Actor) touch() {
	a.mu.Lock()
	if len(a.conns) == 0 {
		a.emptySince = time.Now()
	}
	a.mu.Unlock()
}

// emptyFor reports how long the actor has had zero connections, or false if
// it currently has any.
func (a *Actor) emptyFor(now time.Time) (time.Duration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.conns) > 0 {
		return 0, false
	}
	return now.Sub(a.emptySince), true
}

// closeAll drops every connection, used on shutdown.
func (a *Actor) closeAll() {
	a.mu.Lock()
	conns := make([]*Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	for _, c := range conns {
		delete(a.conns, c)
		close(c.send)
	}
	a.emptySince = time.Now()
	a.mu.Unlock()

	for range conns {
		metrics.ConnectionsActive.WithLabelValues(string(a.kind)).Dec()
	}
}

// eventTypeOf extracts the "type" discriminator from a serialized event for
// logging. Unparseable frames report as unknown.
func eventTypeOf(frame []byte) string {
	var env inboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		return "unknown"
	}
	return env.Type
}
