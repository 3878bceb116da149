// Package wshub fans turn events out to WebSocket clients. The store is the
// system of record; this hub is only a view — hidden events never reach it,
// and a slow or dead client loses frames rather than stalling a turn.
package wshub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/chorus/internal/bus"
	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the
	// connection is considered dead.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second
)

// Envelope is the wire frame sent to clients.
type Envelope struct {
	Type      string      `json:"type"`
	Data      event.Event `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Hub routes events to per-project subscriber topics and serves the
// WebSocket endpoint that drains them.
type Hub struct {
	topics   *bus.Topics[event.Event]
	upgrader websocket.Upgrader
}

// New creates a hub.
func New() *Hub {
	return &Hub{
		topics: bus.NewTopics[event.Event](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Transport-level auth/CORS is out of scope here; the serve
			// command binds to loopback by default.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Send publishes an event to a project's subscribers. Best-effort: full
// subscriber buffers drop the event.
func (h *Hub) Send(projectID string, ev event.Event) {
	h.topics.Publish(projectID, bus.MessageEvent, ev)
}

// Subscribe returns a project's event feed; used by tests and any
// in-process consumer.
func (h *Hub) Subscribe(ctx context.Context, projectID string) <-chan bus.Event[event.Event] {
	return h.topics.Subscribe(ctx, projectID)
}

// Close shuts down every project topic, closing all subscriber channels.
func (h *Hub) Close() {
	h.topics.Close()
}

// ServeWS handles GET /ws/{project_id}: it upgrades the connection and
// streams the project's visible events until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	if projectID == "" {
		http.Error(w, "missing project id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.CatWS, "websocket upgrade failed",
			"projectID", projectID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() { _ = conn.Close() }()

	log.Debug(log.CatWS, "client connected", "projectID", projectID)
	events := h.topics.Subscribe(ctx, projectID)

	// Reader: the client sends nothing we use, but reading drives control
	// frames and surfaces disconnects.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case be, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			envelope := Envelope{
				Type:      string(be.Type),
				Data:      be.Payload,
				Timestamp: be.Timestamp.UTC().Format(time.RFC3339),
			}
			if err := conn.WriteJSON(envelope); err != nil {
				log.Debug(log.CatWS, "client write failed, dropping",
					"projectID", projectID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
