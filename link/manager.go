// Package link owns the byte-stream connection to the printer: it opens
// the port, pumps received bytes to a Handler, serializes outbound writes
// and reconnects with backoff when the port goes away.
package link

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrSendTimeout  = errors.New("link: send timed out")
)

// Handler receives link callbacks. All calls come from the link's read
// goroutine, in order. The slice passed to OnData is only valid for the
// duration of the call.
type Handler interface {
	OnConnect()
	OnData(p []byte)
	OnDisconnect(err error)
}

// Opener opens the underlying port.
type Opener func() (io.ReadWriteCloser, error)

// Config holds link parameters.
type Config struct {
	Open              Opener
	ReconnectInterval time.Duration
	MaxBackoff        time.Duration
	TxTimeout         time.Duration
	ReadBuffer        int
	// Chirp and then InitCommands are written on every new connection.
	Chirp        string
	InitCommands []string
}

type txRequest struct {
	data   []byte
	result chan error
}

// session is one open port and its writer.
type session struct {
	port io.ReadWriteCloser
	tx   chan txRequest
	done chan struct{}
}

// Manager maintains the link to the printer.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	handler Handler
	sess    *session
	running bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a link manager. Call Start to begin connecting.
func NewManager(cfg Config, h Handler) *Manager {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.ReconnectInterval {
		cfg.MaxBackoff = max(30*time.Second, cfg.ReconnectInterval)
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = time.Second
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 512
	}
	return &Manager{
		cfg:      cfg,
		handler:  h,
		stopChan: make(chan struct{}),
	}
}

// Start launches the connect/read loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Stop closes the port and waits for the loop to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.mu.Lock()
		if m.sess != nil {
			m.sess.port.Close()
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
}

// Connected reports whether a port is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// Send writes data to the port, waiting at most timeout for the write to
// be accepted and completed.
func (m *Manager) Send(data []byte, timeout time.Duration) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = m.cfg.TxTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	req := txRequest{data: data, result: make(chan error, 1)}
	select {
	case sess.tx <- req:
	case <-sess.done:
		return ErrNotConnected
	case <-timer.C:
		return ErrSendTimeout
	}

	select {
	case err := <-req.result:
		return err
	case <-sess.done:
		return ErrNotConnected
	case <-timer.C:
		return ErrSendTimeout
	}
}

func (m *Manager) run() {
	defer m.wg.Done()

	attempt := 0
	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		port, err := m.cfg.Open()
		if err != nil {
			attempt++
			if attempt == 1 {
				log.Printf("link: open failed: %v", err)
			}
			if !m.backoff(attempt) {
				return
			}
			continue
		}

		attempt = 0
		err = m.serve(port)

		select {
		case <-m.stopChan:
			return
		default:
		}
		log.Printf("link: disconnected: %v", err)
		attempt++
		if !m.backoff(attempt) {
			return
		}
	}
}

// serve runs one connection until the port fails or Stop is called.
func (m *Manager) serve(port io.ReadWriteCloser) error {
	sess := &session{
		port: port,
		tx:   make(chan txRequest),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	select {
	case <-m.stopChan:
		m.mu.Unlock()
		port.Close()
		return nil
	default:
	}
	m.sess = sess
	m.mu.Unlock()

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		m.writeLoop(sess)
	}()

	log.Printf("link: connected")
	m.handler.OnConnect()
	m.greet()

	err := m.readLoop(port)

	m.mu.Lock()
	m.sess = nil
	m.mu.Unlock()
	close(sess.done)
	port.Close()
	writerWg.Wait()

	m.handler.OnDisconnect(err)
	return err
}

// greet writes the chirp and init commands. It runs asynchronously so a
// stalled port cannot keep the read loop from starting.
func (m *Manager) greet() {
	var cmds []string
	if m.cfg.Chirp != "" {
		cmds = append(cmds, m.cfg.Chirp)
	}
	cmds = append(cmds, m.cfg.InitCommands...)
	if len(cmds) == 0 {
		return
	}
	go func() {
		for _, c := range cmds {
			if err := m.Send([]byte(terminate(c)), m.cfg.TxTimeout); err != nil {
				log.Printf("link: init command %q: %v", c, err)
				return
			}
		}
	}()
}

func (m *Manager) readLoop(port io.Reader) error {
	buf := make([]byte, m.cfg.ReadBuffer)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			m.handler.OnData(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("port closed")
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (m *Manager) writeLoop(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case req := <-sess.tx:
			_, err := sess.port.Write(req.data)
			if err != nil {
				err = fmt.Errorf("write: %w", err)
			}
			req.result <- err
		}
	}
}

// backoff waits with capped exponential backoff plus jitter. It returns
// false if Stop was called during the wait.
func (m *Manager) backoff(attempt int) bool {
	base := m.cfg.ReconnectInterval
	for i := 1; i < attempt && base < m.cfg.MaxBackoff; i++ {
		base *= 2
	}
	if base > m.cfg.MaxBackoff {
		base = m.cfg.MaxBackoff
	}
	wait := time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-m.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

func terminate(cmd string) string {
	if len(cmd) > 0 && cmd[len(cmd)-1] == '\n' {
		return cmd
	}
	return cmd + "\n"
}
