// Package transport is the thin operator-facing surface over the
// command arbiter: a websocket hub broadcasting telemetry snapshots at
// the arbiter's 2 Hz cadence, and a narrow command gateway decoding JSON
// commands into arbiter.Command values. The transport protocol itself
// (routing, auth, HTML/video delivery) is deliberately out of scope;
// this package only wires the two read/write pumps the rest of the
// turret core needs to be observable and controllable.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/arbiter"
	"github.com/rndmzd/laser-turret/internal/obslog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out telemetry snapshots to every connected client.
type Hub struct {
	arb *arbiter.Arbiter

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub wires a broadcast hub to arb's telemetry snapshots, polling at
// the same 2 Hz cadence the arbiter publishes at.
func NewHub(arb *arbiter.Arbiter) *Hub {
	h := &Hub{arb: arb, clients: make(map[*client]struct{})}
	go h.broadcastLoop()
	return h
}

func (h *Hub) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var lastSeq uint64
	for range ticker.C {
		snap := h.arb.Snapshot()
		if snap.Seq == 0 || snap.Seq == lastSeq {
			continue
		}
		lastSeq = snap.Seq

		data, err := json.Marshal(snap)
		if err != nil {
			obslog.L().Warn("telemetry_marshal_failed", zap.Error(err))
			continue
		}
		h.broadcast(data)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client: drop this snapshot rather than block the hub
		}
	}
}

// ServeTelemetry upgrades the request to a websocket and streams
// telemetry snapshots to it until the connection closes.
func (h *Hub) ServeTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.L().Warn("telemetry_upgrade_failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	obslog.L().Info("telemetry_client_connected", zap.String("client_id", c.id))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	obslog.L().Info("telemetry_client_disconnected", zap.String("client_id", c.id))
}
