// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mentor

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/MathMentor/services/mentor/events"
)

const (
	// streamWriteWait bounds a single websocket write.
	streamWriteWait = 10 * time.Second

	// streamPingPeriod is how often the server pings an idle stream.
	streamPingPeriod = 30 * time.Second

	// streamSendBuffer is the per-connection event queue. A subscriber
	// that cannot keep up loses events rather than stalling the emitter.
	streamSendBuffer = 64
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleEventStream handles GET /v1/mentor/events/:id.
//
// Description:
//
//	Upgrades the connection to a websocket and streams the session's
//	events as JSON frames: state transitions, clarification requests,
//	solutions, errors, and the session end. Buffered events from before
//	the connection are replayed first, so a dashboard attaching after a
//	suspension still sees how the session got there.
//
// Path Parameters:
//
//	id: Session ID (required). The literal "all" follows every session.
//
// Response:
//
//	101 Switching Protocols: websocket stream of events.Event frames
//	400 Bad Request: Missing session id
//	503 Service Unavailable: Event stream not configured
//
// Thread Safety: This method is safe for concurrent use. Each connection
// holds its own subscription.
func (h *Handlers) HandleEventStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEventStream")

	sessionID := c.Param("id")
	if sessionID == "" {
		logger.Warn("missing session id")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if sessionID == "all" {
		// An empty subscription filter follows every session.
		sessionID = ""
	}

	if h.emitter == nil {
		logger.Warn("event stream requested but no emitter configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "event stream not configured",
			Code:  "STREAM_NOT_CONFIGURED",
		})
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger.Info("event stream connected", "session_id", sessionID)

	// Subscribe before replaying so nothing emitted during the replay is
	// lost; replayed IDs are remembered to drop the overlap.
	queue := make(chan *events.Event, streamSendBuffer)
	subID := h.emitter.Subscribe(sessionID, func(event *events.Event) {
		select {
		case queue <- event:
		default:
			// Slow consumer; the buffer replay on reconnect covers the gap.
		}
	})
	defer h.emitter.Unsubscribe(subID)

	replayed := make(map[string]struct{})
	if sessionID != "" {
		for _, event := range h.emitter.BufferFor(sessionID) {
			if err := writeStreamFrame(conn, &event); err != nil {
				logger.Info("event stream closed during replay", "error", err)
				return
			}
			replayed[event.ID] = struct{}{}
		}
	}

	// The read pump only detects the peer going away; inbound frames are
	// ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case event := <-queue:
			if _, dup := replayed[event.ID]; dup {
				continue
			}
			if err := writeStreamFrame(conn, event); err != nil {
				logger.Info("event stream closed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Info("event stream ping failed", "error", err)
				return
			}
		case <-done:
			logger.Info("event stream disconnected", "session_id", sessionID)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeStreamFrame sends one event as a JSON frame with a write deadline.
func writeStreamFrame(conn *websocket.Conn, event *events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(event)
}
