// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
)

// connIDCounter generates unique, monotonically increasing connection IDs,
// used for deterministic broadcast iteration order.
var connIDCounter atomic.Uint64

// Conn is one attached WebSocket connection. Its attachment is fixed at
// accept time and never changes for the connection's lifetime.
type Conn struct {
	id         uint64
	actor      *Actor
	ws         *websocket.Conn
	send       chan []byte
	attachment Attachment
	limiter    *rate.Limiter
	cfg        config.RealtimeConfig
}

func newConn(actor *Actor, ws *websocket.Conn, att Attachment, cfg config.RealtimeConfig) *Conn {
	return &Conn{
		id:         connIDCounter.Add(1),
		actor:      actor,
		ws:         ws,
		send:       make(chan []byte, cfg.SendBuffer),
		attachment: att,
		limiter:    rate.NewLimiter(rate.Limit(cfg.InboundRate), cfg.InboundBurst),
		cfg:        cfg,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uint64 { return c.id }

// Attachment returns the connection's immutable identity.
func (c *Conn) Attachment() Attachment { return c.attachment }

// start launches the read and write pumps.
func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// enqueue places a pre-serialized frame on the outbound queue. It never
// blocks; a full queue means the peer is dead or hopelessly backlogged and
// the caller decides what to do about it.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendError sends a structured error frame to this connection only.
func (c *Conn) sendError(code, message string) {
	frame, err := json.Marshal(ErrorFrame{Type: MessageTypeError, Code: code, Message: message})
	if err != nil {
		logging.Error().Err(err).Str("code", code).Msg("failed to encode error frame")
		return
	}
	metrics.ErrorFrames.WithLabelValues(code).Inc()
	if !c.enqueue(frame) {
		logging.Warn().Object("attachment", c.attachment).Str("code", code).
			Msg("dropped error frame: send queue full")
	}
}

// closePolicyViolation sends a 1008 close frame. WriteControl is safe to
// call concurrently with the write pump.
func (c *Conn) closePolicyViolation(reason string) {
	deadline := time.Now().Add(c.cfg.WriteWait)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.Debug().Err(err).Object("attachment", c.attachment).Msg("failed to write close frame")
	}
}

// readPump reads frames from the peer until the connection dies. It owns
// detaching the connection from its actor.
func (c *Conn) readPump() {
	defer func() {
		c.actor.detach(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Object("attachment", c.attachment).
					Str("entity_key", c.actor.key).Msg("unexpected websocket close")
			} else {
				logging.Debug().Err(err).Object("attachment", c.attachment).
					Str("entity_key", c.actor.key).Msg("websocket closed")
			}
			return
		}

		// Binary frames are normalized to text; bytes that are not valid
		// UTF-8 cannot be JSON and degrade this one frame only.
		if msgType == websocket.BinaryMessage && !utf8.Valid(data) {
			c.sendError(ErrCodeDecodeError, "Frame is not valid UTF-8")
			continue
		}

		// Keep-alive fast path: the exact ping literal is answered without
		// touching the frame router or the rate limiter.
		if string(data) == pingLiteral {
			c.enqueue(pongFrame)
			continue
		}

		if !c.limiter.Allow() {
			metrics.FramesRateLimited.WithLabelValues(string(c.actor.kind)).Inc()
			logging.Warn().Object("attachment", c.attachment).
				Str("entity_key", c.actor.key).Msg("inbound frame rate limit exceeded, dropping frame")
			continue
		}

		// A connection whose attachment is unreadable has lost the identity
		// needed to authorize anything; close it as an expired session.
		if c.attachment == nil || c.attachment.Validate() != nil {
			c.sendError(ErrCodeSessionExpired, "Session expired, please reconnect")
			c.closePolicyViolation("session expired")
			return
		}

		metrics.FramesReceived.WithLabelValues(string(c.actor.kind)).Inc()
		c.actor.router.HandleFrame(c.actor, c, data)
	}
}

// writePump writes queued frames and protocol pings until the outbound
// queue is closed or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The actor closed the queue.
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Warn().Err(err).Object("attachment", c.attachment).
					Str("entity_key", c.actor.key).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
