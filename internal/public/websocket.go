package public

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsHub manages the set of live-feed WebSocket connections and broadcasts
// public entries to all of them.
//
// A single hub goroutine handles registration, unregistration, and
// broadcasting, so the connections map needs no lock — all mutations
// happen in the hub goroutine via channels.
type wsHub struct {
	connections  map[*wsConn]bool
	broadcastCh  chan []byte
	registerCh   chan *wsConn
	unregisterCh chan *wsConn
}

// wsConn wraps a single WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex // Protects concurrent writes.
}

// upgrader handles HTTP → WebSocket protocol upgrade. The feed is public
// and read-only, so any origin may connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newWSHub() *wsHub {
	return &wsHub{
		connections:  make(map[*wsConn]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *wsConn),
		unregisterCh: make(chan *wsConn),
	}
}

// run is the hub event loop. Runs in a background goroutine.
func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.registerCh:
			h.connections[conn] = true
			slog.Debug("feed client connected", "total", len(h.connections))

		case conn := <-h.unregisterCh:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
				slog.Debug("feed client disconnected", "total", len(h.connections))
			}

		case msg := <-h.broadcastCh:
			for conn := range h.connections {
				select {
				case conn.send <- msg:
				default:
					// Slow client — drop the connection so it can't
					// stall the feed for everyone else.
					delete(h.connections, conn)
					close(conn.send)
				}
			}
		}
	}
}

// broadcast sends a message to all connected clients. Non-blocking: the
// feed is best-effort, clients re-fetch /api/entries to catch up.
func (h *wsHub) broadcast(msg []byte) {
	select {
	case h.broadcastCh <- msg:
	default:
	}
}

// handleWebSocket upgrades the connection and registers it with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsConn{
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.hub.registerCh <- client

	go client.writePump()
	go client.readPump(s.hub)
}

// writePump sends queued messages to the WebSocket connection.
func (c *wsConn) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// readPump drains incoming messages to detect disconnection. The feed is
// one-directional; client messages are ignored.
func (c *wsConn) readPump(hub *wsHub) {
	defer func() {
		hub.unregisterCh <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
