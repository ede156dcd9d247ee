package restapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// feedHub broadcasts completed-request log entries to every connected
// live-feed websocket client. A single hub goroutine owns the
// connection set so no lock is needed on it — mutations happen only via
// its channels, ported from the guardrail dashboard's broadcast hub.
type feedHub struct {
	connections map[*feedConn]bool
	broadcastCh chan []byte
	registerCh  chan *feedConn
	unregisterCh chan *feedConn
}

type feedConn struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newFeedHub() *feedHub {
	return &feedHub{
		connections:  make(map[*feedConn]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *feedConn),
		unregisterCh: make(chan *feedConn),
	}
}

func (h *feedHub) run() {
	for {
		select {
		case c := <-h.registerCh:
			h.connections[c] = true

		case c := <-h.unregisterCh:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
			}

		case msg := <-h.broadcastCh:
			for c := range h.connections {
				select {
				case c.send <- msg:
				default:
					delete(h.connections, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *feedHub) broadcast(msg []byte) {
	select {
	case h.broadcastCh <- msg:
	default:
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("feed websocket upgrade failed", "err", err)
		return
	}

	c := &feedConn{conn: conn, send: make(chan []byte, 64)}
	s.feed.registerCh <- c

	go c.writePump()
	go c.readPump(s.feed)
}

func (c *feedConn) writePump() {
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

func (c *feedConn) readPump(hub *feedHub) {
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
