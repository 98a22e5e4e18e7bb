package messaging

import (
	"log"
	"sync"
	"sync/atomic"

	"printbridge/printer"
)

// Forwarder mirrors printer events to a broker topic. Offer never blocks:
// a full queue drops the newest event, as the hub does for subscribers.
type Forwarder struct {
	pub        Publisher
	node       string
	topic      string
	forwardLog bool

	queue    chan printer.Event
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	failing atomic.Bool
}

// NewForwarder creates a forwarder publishing to topic through pub.
func NewForwarder(pub Publisher, node, topic string, queueSize int, forwardLog bool) *Forwarder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Forwarder{
		pub:        pub,
		node:       node,
		topic:      topic,
		forwardLog: forwardLog,
		queue:      make(chan printer.Event, queueSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the publish loop.
func (f *Forwarder) Start() {
	go f.loop()
}

// Stop halts the publish loop. Queued events are discarded.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.done
}

// Offer queues evt for publishing.
func (f *Forwarder) Offer(evt printer.Event) {
	if evt.Type == printer.EventLog && !f.forwardLog {
		return
	}
	select {
	case f.queue <- evt:
	default:
		if f.dropped.Add(1) == 1 {
			log.Printf("messaging: forward queue full, dropping events")
		}
	}
}

func (f *Forwarder) loop() {
	defer close(f.done)
	for {
		select {
		case <-f.stopCh:
			return
		case evt := <-f.queue:
			f.publish(evt)
		}
	}
}

func (f *Forwarder) publish(evt printer.Event) {
	env, err := NewEnvelope(f.node, evt)
	if err != nil {
		log.Printf("messaging: encode %s event: %v", evt.Type, err)
		f.failed.Add(1)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("messaging: encode envelope: %v", err)
		f.failed.Add(1)
		return
	}
	if err := f.pub.Publish(f.topic, data); err != nil {
		f.failed.Add(1)
		if !f.failing.Swap(true) {
			log.Printf("messaging: publish to %s: %v", f.topic, err)
		}
		return
	}
	if f.failing.Swap(false) {
		log.Printf("messaging: publish to %s recovered", f.topic)
	}
	f.sent.Add(1)
}

// Sent returns the number of published events.
func (f *Forwarder) Sent() uint64 { return f.sent.Load() }

// Dropped returns the number of events dropped on a full queue.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Failed returns the number of encode or publish failures.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }
