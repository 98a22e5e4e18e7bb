package hub

import (
	"log"
	"sync/atomic"

	"printbridge/printer"
)

// Broadcaster publishes events to every active subscriber queue.
type Broadcaster struct {
	reg       *Registry
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates a broadcaster over reg.
func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

// Publish offers evt to every active subscriber. A full queue drops evt
// for that subscriber only; already queued events are kept. Publish never
// blocks on a subscriber.
func (b *Broadcaster) Publish(evt printer.Event) {
	b.published.Add(1)
	b.reg.ForEachActive(func(s *Subscriber) {
		if s.offer(evt) {
			if s.congested {
				s.congested = false
				log.Printf("hub: subscriber %d (%s) draining again", s.id, s.session)
			}
			return
		}
		b.dropped.Add(1)
		if !s.congested {
			s.congested = true
			log.Printf("hub: subscriber %d (%s) queue full, dropping %s events", s.id, s.session, evt.Type)
		}
	})
}

// Emit lets the broadcaster sit directly behind a printer.Parser.
func (b *Broadcaster) Emit(evt printer.Event) {
	b.Publish(evt)
}

// Published returns the number of Publish calls.
func (b *Broadcaster) Published() uint64 { return b.published.Load() }

// Dropped returns the number of per-subscriber drops.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }
