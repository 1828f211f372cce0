// Package ws implements the live-update fan-out over WebSocket. The Hub keeps
// the set of connected dashboard clients and pushes one JSON frame per duty or
// verification event. Delivery is best-effort: a client that cannot keep up is
// dropped rather than allowed to stall the broadcast loop.
//
// On connect each client first receives a snapshot frame with the currently
// active sessions, so a dashboard renders correct state without waiting for
// the next transition.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crowvale/dutywatch/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before it is considered
	// dead; pings go out at pingPeriod (must be < pongWait).
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer frames per client. Overflow drops the client.
	sendBuffer = 32
)

// Frame is the wire format pushed to clients.
type Frame struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subject_id,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SnapshotFunc supplies the initial state sent to a newly connected client.
type SnapshotFunc func(ctx context.Context) (any, error)

// Hub is the broadcast center. Create with NewHub, start with Run, attach
// clients with ServeHTTP. Implements the engines' Publisher contract.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool

	snapshot SnapshotFunc
	upgrader websocket.Upgrader
}

// NewHub builds a Hub. snapshot may be nil, in which case new clients get no
// initial frame.
func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*client]bool),
		snapshot:   snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from arbitrary origins; access control is
			// handled at the HTTP layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run owns the client set. Must be started exactly once, typically
// `go hub.Run(ctx)` at process startup; returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			log.Debug().Int("clients", len(h.clients)).Msg("ws client connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
				log.Debug().Int("clients", len(h.clients)).Msg("ws client disconnected")
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it, the broadcast loop never blocks.
					delete(h.clients, c)
					c.close()
					log.Warn().Msg("ws client dropped, send buffer full")
				}
			}
		}
	}
}

// Publish encodes the event and queues it for every connected client.
// Fire-and-forget: when the broadcast queue itself is full the event is
// dropped with a log line instead of blocking the calling engine.
func (h *Hub) Publish(ev domain.Event) {
	frame := Frame{
		Kind:      string(ev.Kind),
		SubjectID: ev.SubjectID,
		ScopeID:   ev.ScopeID,
		Payload:   ev.Payload,
	}
	msg, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("kind", frame.Kind).Msg("ws frame marshal failed")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("kind", frame.Kind).Msg("ws broadcast queue full, event dropped")
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	if h.snapshot != nil {
		if state, err := h.snapshot(r.Context()); err == nil {
			if msg, err := json.Marshal(Frame{Kind: "snapshot", Payload: state}); err == nil {
				c.send <- msg
			}
		} else {
			log.Warn().Err(err).Msg("ws snapshot unavailable, client starts empty")
		}
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// client is one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound frames (the protocol is push-only) and detects
// disconnects via read errors and pong timeouts.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes all writes on the connection: queued frames plus
// keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts the send channel exactly once, terminating writePump.
func (c *client) close() {
	defer func() { recover() }() // double close on racing unregister paths
	close(c.send)
}
