package www

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"printbridge/engine"
	"printbridge/hub"
)

// CloseTryAgainLater is sent when every subscriber slot is taken.
const CloseTryAgainLater = 1013

const (
	wsHello     = "hello"
	wsCmdPrefix = "cmd:"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn is the hub.Conn side of one WebSocket client.
type wsConn struct {
	mu           sync.Mutex
	ws           *websocket.Conn
	closed       bool
	writeTimeout time.Duration
}

func (c *wsConn) SendText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// close sends a close frame with code and tears the socket down. Safe to
// call more than once.
func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.ws.Close()
}

// handleWS upgrades to a WebSocket subscriber. Inbound text frames are
// "hello" (send the current state) and "cmd:<gcode>" (relay to printer).
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	conn := &wsConn{ws: ws, writeTimeout: h.writeTimeout}

	id, err := h.engine.Join(conn)
	if err != nil {
		if errors.Is(err, hub.ErrRegistryFull) {
			conn.close(CloseTryAgainLater, "subscriber limit reached")
		} else {
			conn.close(websocket.CloseInternalServerErr, err.Error())
		}
		return
	}
	defer func() {
		h.engine.Leave(conn)
		conn.close(websocket.CloseNormalClosure, "")
	}()

	done := make(chan struct{})
	defer close(done)
	go h.wsKeepalive(conn, done)

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(2 * h.keepalive))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(2 * h.keepalive))
		return nil
	})

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: subscriber %d read: %v", id, err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		h.handleWSMessage(id, string(data))
	}
}

func (h *Handlers) handleWSMessage(id hub.SlotID, msg string) {
	switch {
	case msg == wsHello:
		if err := h.engine.Seed(id); err != nil {
			log.Printf("ws: seed subscriber %d: %v", id, err)
		}
	case strings.HasPrefix(msg, wsCmdPrefix):
		h.engine.SendCommand(engine.SourceWebSocket, strings.TrimPrefix(msg, wsCmdPrefix))
	}
}

// wsKeepalive pings the client and closes the socket on shutdown.
func (h *Handlers) wsKeepalive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-h.stopChan:
			conn.close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

var _ hub.Conn = (*wsConn)(nil)
