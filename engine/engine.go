// Package engine wires the printer pipeline together: link bytes flow
// through the line assembler and parser into the canonical state and out
// to subscribers via the hub.
package engine

import (
	"strings"
	"sync"

	"printbridge/config"
	"printbridge/console"
	"printbridge/hub"
	"printbridge/link"
	"printbridge/printer"
	"printbridge/store"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Engine owns the state store, the subscriber hub and the printer link.
type Engine struct {
	cfg     *config.Config
	db      *store.DB
	logFn   LogFunc
	debugFn LogFunc

	state       *printer.State
	parser      *printer.Parser
	assembler   *console.Assembler
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	delivery    *hub.Delivery
	link        *link.Manager
	journal     *journal

	Events   *EventBus
	stopChan chan struct{}
	stopOnce sync.Once
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	// DB is the command journal; nil disables journaling.
	DB *store.DB
	// Opener overrides the port opener derived from AppConfig.Link.
	Opener  link.Opener
	LogFunc LogFunc
	Debug   bool
}

// New creates a new Engine. Call Start() to connect and begin delivery.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}

	e := &Engine{
		cfg:      cfg,
		db:       c.DB,
		logFn:    logFn,
		debugFn:  debugFn,
		Events:   NewEventBus(logFn),
		stopChan: make(chan struct{}),
	}

	e.state = printer.NewState()
	e.parser = printer.NewParser(e.state, &busEmitter{bus: e.Events})
	e.assembler = console.NewAssembler(cfg.Bridge.MaxLineLength, e.parser.HandleLine)
	e.registry = hub.NewRegistry(cfg.Bridge.MaxSubscribers, cfg.Bridge.QueueSize)
	e.broadcaster = hub.NewBroadcaster(e.registry)
	e.delivery = hub.NewDelivery(e.registry, e.state, cfg.Bridge.DeliveryIdle, cfg.Bridge.DeliveryBatch)
	if c.DB != nil {
		e.journal = newJournal(c.DB, 256)
	}

	opener := c.Opener
	if opener == nil {
		opener = openerFor(cfg.Link)
	}
	e.link = link.NewManager(link.Config{
		Open:              opener,
		ReconnectInterval: cfg.Link.ReconnectInterval,
		MaxBackoff:        cfg.Link.MaxBackoff,
		TxTimeout:         cfg.Link.TxTimeout,
		Chirp:             cfg.Link.Chirp,
		InitCommands:      cfg.Link.InitCommands,
	}, &linkHandler{e: e})

	return e
}

func openerFor(lc config.LinkConfig) link.Opener {
	if strings.EqualFold(lc.Type, "tcp") {
		return link.TCPOpener(lc.Address, lc.DialTimeout)
	}
	return link.SerialOpener(lc.Device, lc.Baud, lc.USBVendorID, lc.USBProductID)
}

// Start wires event handlers and starts delivery, journaling and the link.
func (e *Engine) Start() {
	e.wireEventHandlers()
	if e.journal != nil {
		e.journal.start()
	}
	e.delivery.Start()
	e.link.Start()

	e.logFn("Engine started: node=%s link=%s subscribers=%d queue=%d",
		e.cfg.NodeID, e.cfg.Link.Type, e.registry.Cap(), e.cfg.Bridge.QueueSize)
}

// Stop shuts down the link, the delivery loop and the journal.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.link.Stop()
		e.delivery.Stop()
		if e.journal != nil {
			e.journal.stop()
		}
		e.logFn("Engine stopped")
	})
}

// DB returns the journal database, or nil if journaling is disabled.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// Snapshot returns a consistent copy of the printer state.
func (e *Engine) Snapshot() printer.Snapshot { return e.state.Snapshot() }

// Connected reports the link connectivity flag.
func (e *Engine) Connected() bool { return e.state.Snapshot().Connected }

// Registry returns the subscriber registry.
func (e *Engine) Registry() *hub.Registry { return e.registry }
