// Package ws fans the agent's local events out to connected watchers.
// Components broadcast JSON events through the hub; every connected client
// receives them in real time, and a client that connects late first gets
// the most recent backlog so `stctl watch` starts with context.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultBacklog is how many recent events a new watcher is sent on connect.
const DefaultBacklog = 64

// Hub manages watcher connections. Register, unregister, and broadcast all
// go through channels into a single loop, so it is safe for concurrent use.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	upgrader   websocket.Upgrader

	backlog [][]byte
	next    int
	filled  bool

	connected atomic.Int64
	dropped   atomic.Uint64
}

// NewHub allocates a hub keeping the last backlog events for late joiners.
// Call Run in a goroutine to start the event loop.
func NewHub(backlog int) *Hub {
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		backlog:    make([][]byte, backlog),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations, broadcasts, and keepalive pings until ctx is
// cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Add(1)
			for _, msg := range h.recent() {
				if !h.write(c, websocket.TextMessage, msg, 3*time.Second) {
					break
				}
			}

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			h.remember(msg)
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg, 3*time.Second)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil, 2*time.Second)
			}
		}
	}
}

// write sends one frame and drops the client on failure.
func (h *Hub) write(c *websocket.Conn, kind int, msg []byte, timeout time.Duration) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	_ = c.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.WriteMessage(kind, msg); err != nil {
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.connected.Add(-1)
	_ = c.Close()
}

func (h *Hub) remember(msg []byte) {
	if len(h.backlog) == 0 {
		return
	}
	h.backlog[h.next] = msg
	h.next = (h.next + 1) % len(h.backlog)
	if h.next == 0 {
		h.filled = true
	}
}

// recent returns the backlog oldest first.
func (h *Hub) recent() [][]byte {
	if !h.filled {
		return h.backlog[:h.next]
	}
	out := make([][]byte, 0, len(h.backlog))
	out = append(out, h.backlog[h.next:]...)
	return append(out, h.backlog[:h.next]...)
}

// Handler upgrades incoming requests to WebSocket connections and registers
// them with the hub. Watchers are read-only; anything they send is discarded.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON marshals v and queues it for every connected client. When
// the queue is full the message is dropped rather than blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.dropped.Add(1)
	}
}

// Clients reports how many watchers are connected.
func (h *Hub) Clients() int {
	return int(h.connected.Load())
}

// Dropped reports how many broadcasts were discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
