package www

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"printbridge/hub"
)

var errConnClosed = errors.New("connection closed")

// sseConn is the hub.Conn side of one EventSource client. The delivery
// goroutine writes through it, so every write happens under mu and
// nothing is written once the handler has returned.
type sseConn struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	closed       bool
	writeTimeout time.Duration
}

func (c *sseConn) SendText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.write("data: %s\n\n", payload)
}

func (c *sseConn) keepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.write(": keepalive\n\n")
}

// write must be called with mu held.
func (c *sseConn) write(format string, args ...interface{}) error {
	c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := fmt.Fprintf(c.w, format, args...); err != nil {
		return err
	}
	return c.rc.Flush()
}

func (c *sseConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// handleSSE streams printer events as Server-Sent Events. The current
// state is seeded immediately.
func (h *Handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	conn := &sseConn{w: w, rc: http.NewResponseController(w), writeTimeout: h.writeTimeout}
	// held until the headers are out so delivery cannot write first
	conn.mu.Lock()
	id, err := h.engine.Join(conn)
	if err != nil {
		conn.closed = true
		conn.mu.Unlock()
		if errors.Is(err, hub.ErrRegistryFull) {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		conn.close()
		h.engine.Leave(conn)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	err = conn.write(": connected\n\n")
	conn.mu.Unlock()
	if err != nil {
		return
	}

	if err := h.engine.Seed(id); err != nil {
		log.Printf("sse: seed subscriber %d: %v", id, err)
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case <-keepalive.C:
			if err := conn.keepalive(); err != nil {
				return
			}
		}
	}
}

var _ hub.Conn = (*sseConn)(nil)
