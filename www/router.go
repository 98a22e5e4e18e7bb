package www

import (
	"net/http"
	"sync"
	"time"

	"printbridge/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine       *engine.Engine
	keepalive    time.Duration
	writeTimeout time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRouter creates the chi router and returns it along with a stop
// function that ends long-lived WebSocket and SSE connections.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	web := eng.AppConfig().Web
	h := &Handlers{
		engine:       eng,
		keepalive:    web.Keepalive,
		writeTimeout: web.WriteTimeout,
		stopChan:     make(chan struct{}),
	}
	if h.keepalive <= 0 {
		h.keepalive = 30 * time.Second
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS()))))

	// Subscriber transports
	r.Get("/ws", h.handleWS)
	r.Get("/events", h.handleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.apiState)
		r.Get("/status", h.apiStatus)
		r.Get("/send", h.apiSend)
		r.Post("/send", h.apiSend)
		r.Get("/stats", h.apiStats)
		r.Get("/commands", h.apiCommands)
		r.Get("/link-events", h.apiLinkEvents)
	})

	return r, h.stop
}

func (h *Handlers) stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}
