package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// EventMessage is one frame on the event stream
type EventMessage struct {
	Type string           `json:"type"`
	Data session.Snapshot `json:"data"`
}

// handleEvents streams state changes over a WebSocket, starting with the
// current state
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	events, cancel := s.service.Subscribe()
	defer cancel()

	slog.Debug("Event stream opened", "remote_addr", r.RemoteAddr)

	// The client never sends anything meaningful; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	if err := writeEvent(conn, "state", s.service.Status()); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeDeadline))
				return
			}
			if err := writeEvent(conn, "state", snap); err != nil {
				slog.Debug("Error writing event", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-closed:
			slog.Debug("Event stream closed by client", "remote_addr", r.RemoteAddr)
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeDeadline))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, kind string, snap session.Snapshot) error {
	data, err := json.Marshal(EventMessage{Type: kind, Data: snap})
	if err != nil {
		slog.Warn("Error marshaling event", "error", err)
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, data)
}
