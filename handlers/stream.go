// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/middleware"
)

const wsWriteTimeout = 10 * time.Second

// publish sends an event to the streams of an assembly. Failures are
// logged only: clients converge through polling.
func publish(pub broadcast.Publisher, assemblyID, event string, payload any) {
	if pub == nil {
		return
	}
	msg, err := events.NewMessage(event, payload)
	if err != nil {
		slog.Error("failed to build event", "event", event, "error", err)
		return
	}
	if err := pub.Publish(context.Background(), assemblyID, msg); err != nil {
		slog.Warn("failed to publish event", "event", event, "assembly_id", assemblyID, "error", err)
	}
}

type StreamHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	hub      broadcast.Hub
	upgrader websocket.Upgrader
}

func NewStreamHandler(db *sql.DB, cfg cliparse.Config, hub broadcast.Hub) *StreamHandler {
	return &StreamHandler{
		db:  db,
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			// Origins are already governed by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) heartbeat() time.Duration {
	if h.cfg.HeartbeatInterval > 0 {
		return h.cfg.HeartbeatInterval
	}
	return cliparse.DefaultHeartbeatInterval
}

// assemblyFound writes 404 or 500 and returns false when the assembly
// cannot be streamed.
func (h *StreamHandler) assemblyFound(w http.ResponseWriter, assemblyID string) bool {
	var exists bool
	err := h.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM assembly WHERE id = $1)`, assemblyID).Scan(&exists)
	if err != nil {
		slog.Error("failed to query assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return false
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Assembly not found")
		return false
	}
	return true
}

// SSE handles GET /assemblies/{id}/stream
// A heartbeat is written whenever the stream has been idle for the
// configured interval.
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !h.assemblyFound(w, assemblyID) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(assemblyID)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("stream opened", "assembly_id", assemblyID, "transport", "sse")
	defer slog.Info("stream closed", "assembly_id", assemblyID, "transport", "sse")

	idle := time.NewTimer(h.heartbeat())
	defer idle.Stop()

	for {
		var msg events.Message
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-sub.C:
			if !ok {
				return
			}
			msg = m
		case <-idle.C:
			msg = events.HeartbeatMessage()
		}

		if err := events.WriteSSE(w, msg); err != nil {
			return
		}
		flusher.Flush()
		idle.Reset(h.heartbeat())
	}
}

// WebSocket handles GET /assemblies/{id}/ws
// Frames are JSON objects {"event": ..., "data": ...}. Anything the client
// sends is read and discarded.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !h.assemblyFound(w, assemblyID) {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := h.hub.Subscribe(assemblyID)
	slog.Info("stream opened", "assembly_id", assemblyID, "transport", "websocket")

	done := make(chan struct{})
	go h.writeWS(conn, sub, done)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	sub.Cancel()
	<-done
	slog.Info("stream closed", "assembly_id", assemblyID, "transport", "websocket")
}

func (h *StreamHandler) writeWS(conn *websocket.Conn, sub *broadcast.Subscription, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	idle := time.NewTimer(h.heartbeat())
	defer idle.Stop()

	for {
		var msg events.Message
		select {
		case m, ok := <-sub.C:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg = m
		case <-idle.C:
			msg = events.HeartbeatMessage()
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		idle.Reset(h.heartbeat())
	}
}
