// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(testRealtimeConfig())

	a1 := r.GetOrCreate(KindConversation, 42)
	a2 := r.GetOrCreate(KindConversation, 42)
	if a1 != a2 {
		t.Error("GetOrCreate() returned different actors for the same entity")
	}
	if a1.Key() != "conversation-42" {
		t.Errorf("Key() = %q, want %q", a1.Key(), "conversation-42")
	}

	// Same id under a different kind is a different entity.
	a3 := r.GetOrCreate(KindCart, 42)
	if a3 == a1 {
		t.Error("GetOrCreate() conflated entities of different kinds")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(testRealtimeConfig())

	if _, ok := r.Lookup(KindUser, 1); ok {
		t.Error("Lookup() on empty registry reported a hit")
	}

	a := r.GetOrCreate(KindUser, 1)
	got, ok := r.Lookup(KindUser, 1)
	if !ok || got != a {
		t.Error("Lookup() did not return the created actor")
	}
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(testRealtimeConfig())

	conv := r.GetOrCreate(KindConversation, 1)
	attachTestConn(t, conv, &ConversationAttachment{UserID: 1, ConversationID: 1}, 8)
	attachTestConn(t, conv, &ConversationAttachment{UserID: 2, ConversationID: 1}, 8)
	r.GetOrCreate(KindCart, 1)

	stats := r.Stats()
	if s := stats[KindConversation]; s.Actors != 1 || s.Connections != 2 {
		t.Errorf("conversation stats = %+v, want 1 actor / 2 connections", s)
	}
	if s := stats[KindCart]; s.Actors != 1 || s.Connections != 0 {
		t.Errorf("cart stats = %+v, want 1 actor / 0 connections", s)
	}
	if s := stats[KindUser]; s.Actors != 0 {
		t.Errorf("user stats = %+v, want empty", s)
	}
}

func TestRegistryReap(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.ActorIdleTTL = time.Minute
	r := NewRegistry(cfg)

	idle := r.GetOrCreate(KindConversation, 1)
	fresh := r.GetOrCreate(KindConversation, 2)
	busy := r.GetOrCreate(KindConversation, 3)
	attachTestConn(t, busy, &ConversationAttachment{UserID: 1, ConversationID: 3}, 8)

	// Backdate the idle actor past the TTL; the fresh one stays inside it.
	idle.mu.Lock()
	idle.emptySince = time.Now().Add(-2 * time.Minute)
	idle.mu.Unlock()

	if n := r.reap(time.Now()); n != 1 {
		t.Errorf("reap() evicted %d actors, want 1", n)
	}
	if _, ok := r.Lookup(KindConversation, 1); ok {
		t.Error("idle actor survived the reaper")
	}
	if _, ok := r.Lookup(KindConversation, 2); !ok {
		t.Error("actor inside the idle TTL was evicted")
	}
	if _, ok := r.Lookup(KindConversation, 3); !ok {
		t.Error("actor with live connections was evicted")
	}
	_ = fresh
}

func TestGetOrCreateRefreshesIdleClock(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.ActorIdleTTL = time.Minute
	r := NewRegistry(cfg)

	a := r.GetOrCreate(KindConversation, 42)
	// Simulate the actor having sat empty well past the TTL before a new
	// caller resolves it.
	a.mu.Lock()
	a.emptySince = time.Now().Add(-2 * time.Minute)
	a.mu.Unlock()

	b := r.GetOrCreate(KindConversation, 42)
	if b != a {
		t.Fatal("GetOrCreate() returned a different actor for the same entity")
	}

	// A reaper pass between resolution and attach must not evict the actor
	// the caller is holding.
	if n := r.reap(time.Now()); n != 0 {
		t.Fatalf("reap() evicted %d actors, want 0 for a just-resolved actor", n)
	}

	c := attachTestConn(t, a, &ConversationAttachment{UserID: 1, ConversationID: 42}, 8)
	got, ok := r.Lookup(KindConversation, 42)
	if !ok || got != a {
		t.Fatal("resolved actor is no longer routable after a reaper pass")
	}
	delivered := got.BroadcastRaw([]byte(`{"type":"typing"}`))
	if delivered != 1 {
		t.Errorf("BroadcastRaw() delivered = %d, want 1", delivered)
	}
	recvFrame(t, c)
}

func TestRegistryReapThenRecreate(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.ActorIdleTTL = time.Minute
	r := NewRegistry(cfg)

	a := r.GetOrCreate(KindUser, 9)
	a.mu.Lock()
	a.emptySince = time.Now().Add(-time.Hour)
	a.mu.Unlock()
	r.reap(time.Now())

	// Eviction is invisible to callers: the next GetOrCreate simply builds a
	// new actor under the same key.
	b := r.GetOrCreate(KindUser, 9)
	if b == a {
		t.Error("GetOrCreate() resurrected an evicted actor instance")
	}
	if b.Key() != a.Key() {
		t.Errorf("recreated actor key = %q, want %q", b.Key(), a.Key())
	}
}

func TestRegistryRunWithContext(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.ReaperInterval = 10 * time.Millisecond
	r := NewRegistry(cfg)

	a := r.GetOrCreate(KindUser, 1)
	c := attachTestConn(t, a, &UserAttachment{UserID: 1}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunWithContext(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWithContext() did not stop after cancel")
	}

	// Shutdown must close every live connection's queue.
	if _, ok := <-c.send; ok {
		t.Error("connection queue not closed on shutdown")
	}
	if _, ok := r.Lookup(KindUser, 1); ok {
		t.Error("registry still holds actors after shutdown")
	}
}
