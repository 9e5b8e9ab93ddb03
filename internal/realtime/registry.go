// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
)

// Registry owns the live actor set. Actors are created on demand, keyed by
// entity key, and evicted after sitting idle with zero connections for the
// configured TTL. Eviction is purely a memory optimization: actors carry no
// durable state, so the next connection or broadcast recreates an identical
// one.
type Registry struct {
	cfg config.RealtimeConfig

	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.RealtimeConfig) *Registry {
	return &Registry{
		cfg:    cfg,
		actors: make(map[string]*Actor),
	}
}

// GetOrCreate returns the actor for the given entity, creating it if needed.
// Concurrent calls for the same entity always converge on one actor.
//
// The idle clock is refreshed while the registry lock is held: a caller that
// resolves an actor goes on to attach a connection to it, and the reaper must
// not evict the actor in that window. The reaper sweeps under the write lock,
// so an actor returned here is guaranteed a full idle TTL before it can be
// evicted.
func (r *Registry) GetOrCreate(kind Kind, id int64) *Actor {
	key := EntityKey(kind, id)

	r.mu.RLock()
	if a, ok := r.actors[key]; ok {
		a.touch()
		r.mu.RUnlock()
		return a
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[key]; ok {
		a.touch()
		return a
	}
	a := newActor(kind, id, routerFor(kind), r.cfg)
	r.actors[key] = a
	metrics.ActorsActive.WithLabelValues(string(kind)).Inc()
	logging.Debug().Str("entity_key", key).Msg("actor created")
	return a
}

// Lookup returns the actor for the given entity if one is live. Broadcasts
// use Lookup rather than GetOrCreate so that notifying an entity nobody is
// watching does not materialize an actor.
func (r *Registry) Lookup(kind Kind, id int64) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[EntityKey(kind, id)]
	return a, ok
}

// Stats reports live actor and connection counts per entity kind.
func (r *Registry) Stats() map[Kind]KindStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[Kind]KindStats, 3)
	for _, a := range r.actors {
		s := stats[a.kind]
		s.Actors++
		s.Connections += a.ConnectionCount()
		stats[a.kind] = s
	}
	return stats
}

// KindStats summarizes the live population for one entity kind.
type KindStats struct {
	Actors      int `json:"actors"`
	Connections int `json:"connections"`
}

// reap evicts actors that have had zero connections for longer than the idle
// TTL. Returns the number evicted.
func (r *Registry) reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, a := range r.actors {
		idle, empty := a.emptyFor(now)
		if !empty || idle < r.cfg.ActorIdleTTL {
			continue
		}
		delete(r.actors, key)
		metrics.ActorsActive.WithLabelValues(string(a.kind)).Dec()
		logging.Debug().Str("entity_key", key).Dur("idle", idle).Msg("idle actor evicted")
		evicted++
	}
	return evicted
}

// closeAll shuts down every actor's connections and empties the registry.
func (r *Registry) closeAll() {
	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[string]*Actor)
	r.mu.Unlock()

	for key, a := range actors {
		a.closeAll()
		metrics.ActorsActive.WithLabelValues(string(a.kind)).Dec()
		logging.Debug().Str("entity_key", key).Msg("actor closed on shutdown")
	}
}

// RunWithContext runs the idle-actor reaper until the context is cancelled,
// then closes every live connection. Suitable as a suture service body.
func (r *Registry) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.cfg.ReaperInterval).
		Dur("idle_ttl", r.cfg.ActorIdleTTL).Msg("actor reaper started")

	for {
		// Shutdown takes priority over a pending tick.
		select {
		case <-ctx.Done():
			r.closeAll()
			logging.Info().Msg("actor reaper stopped")
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			r.closeAll()
			logging.Info().Msg("actor reaper stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.reap(now); n > 0 {
				logging.Debug().Int("evicted", n).Msg("reaper pass complete")
			}
		}
	}
}
