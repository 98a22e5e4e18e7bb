package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"printbridge/printer"
)

// SubscriberID uniquely identifies an EventBus consumer.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(printer.Event)

// typeMask selects event types by bit; zero selects every type.
type typeMask uint32

func maskOf(types ...printer.EventType) typeMask {
	var m typeMask
	for _, t := range types {
		if t > 0 && t < 32 {
			m |= 1 << uint(t)
		}
	}
	return m
}

func (m typeMask) has(t printer.EventType) bool {
	return m == 0 || (t > 0 && t < 32 && m&(1<<uint(t)) != 0)
}

type consumer struct {
	id     SubscriberID
	name   string
	fn     SubscriberFunc
	mask   typeMask
	panics atomic.Uint64
}

// ConsumerInfo describes one registered consumer.
type ConsumerInfo struct {
	Name   string `json:"name"`
	Panics uint64 `json:"panics"`
}

// EventBus fans printer events out to in-process consumers (the hub
// broadcaster, the broker forwarder, the state mirror). Consumers run in
// registration order on the emitting goroutine, which is the link read
// goroutine for parsed events, so they must not block. A consumer that
// panics is logged and skipped for that event; the others still run.
type EventBus struct {
	mu        sync.Mutex
	consumers atomic.Pointer[[]*consumer]
	nextID    SubscriberID
	logFn     LogFunc

	emitted atomic.Uint64
}

// NewEventBus creates an EventBus that reports consumer panics to logFn,
// or to the standard logger when logFn is nil.
func NewEventBus(logFn LogFunc) *EventBus {
	if logFn == nil {
		logFn = log.Printf
	}
	return &EventBus{logFn: logFn}
}

// Subscribe registers a named consumer for every event type.
func (eb *EventBus) Subscribe(name string, fn SubscriberFunc) SubscriberID {
	return eb.add(name, fn, 0)
}

// SubscribeTypes registers a named consumer for the given event types.
func (eb *EventBus) SubscribeTypes(name string, fn SubscriberFunc, types ...printer.EventType) SubscriberID {
	return eb.add(name, fn, maskOf(types...))
}

func (eb *EventBus) add(name string, fn SubscriberFunc, mask typeMask) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	c := &consumer{id: eb.nextID, name: name, fn: fn, mask: mask}
	old := eb.list()
	next := make([]*consumer, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, c)
	eb.consumers.Store(&next)
	return c.id
}

// Unsubscribe removes a consumer by ID.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	old := eb.list()
	next := make([]*consumer, 0, len(old))
	for _, c := range old {
		if c.id != id {
			next = append(next, c)
		}
	}
	eb.consumers.Store(&next)
}

func (eb *EventBus) list() []*consumer {
	if p := eb.consumers.Load(); p != nil {
		return *p
	}
	return nil
}

// Emit dispatches an event synchronously to every matching consumer.
func (eb *EventBus) Emit(evt printer.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.emitted.Add(1)
	for _, c := range eb.list() {
		if c.mask.has(evt.Type) {
			eb.deliver(c, evt)
		}
	}
}

func (eb *EventBus) deliver(c *consumer, evt printer.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			eb.logFn("eventbus: consumer %q panicked on %s event: %v", c.name, evt.Type, r)
		}
	}()
	c.fn(evt)
}

// Emitted returns the number of events emitted.
func (eb *EventBus) Emitted() uint64 { return eb.emitted.Load() }

// Consumers lists registered consumers in dispatch order.
func (eb *EventBus) Consumers() []ConsumerInfo {
	list := eb.list()
	out := make([]ConsumerInfo, len(list))
	for i, c := range list {
		out[i] = ConsumerInfo{Name: c.name, Panics: c.panics.Load()}
	}
	return out
}
