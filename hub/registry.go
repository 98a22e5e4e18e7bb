// Package hub fans printer events out to live subscribers. Each subscriber
// owns a bounded queue; publishing never blocks and a slow or broken
// subscriber only loses its own events.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"printbridge/printer"

	"github.com/google/uuid"
)

var (
	ErrRegistryFull = errors.New("hub: registry full")
	ErrUnknownSlot  = errors.New("hub: unknown subscriber slot")
)

// Conn is the transport side of a subscriber.
type Conn interface {
	SendText(payload []byte) error
}

// SlotID is a stable small index into the registry arena.
type SlotID int

// SubscriberStats counts per-subscriber delivery outcomes.
type SubscriberStats struct {
	Sent    atomic.Uint64
	Dropped atomic.Uint64
	Failed  atomic.Uint64
}

// SubscriberInfo is a read-only view of an active subscriber.
type SubscriberInfo struct {
	Slot    SlotID `json:"slot"`
	Session string `json:"session"`
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// lane tracks the send in flight for one registration. Only one batch
// per registration is outstanding at a time, which keeps its events in
// queue order.
type lane struct {
	busy atomic.Bool
}

// Subscriber is one arena slot. Its fields are guarded by the registry
// lock; the queue itself is a channel and needs no extra locking.
type Subscriber struct {
	id        SlotID
	session   string
	conn      Conn
	active    bool
	congested bool
	queue     chan printer.Event
	stats     *SubscriberStats
	lane      *lane

	// latest holds the highest sequence queued per event type.
	latest map[printer.EventType]uint64
}

// offer enqueues without blocking. It reports false when the queue is
// full and the event was dropped.
func (s *Subscriber) offer(evt printer.Event) bool {
	select {
	case s.queue <- evt:
		if evt.Seq > s.latest[evt.Type] {
			s.latest[evt.Type] = evt.Seq
		}
		return true
	default:
		s.stats.Dropped.Add(1)
		return false
	}
}

// superseded reports whether a newer event of the same type has already
// been queued for this registration.
func (s *Subscriber) superseded(evt printer.Event) bool {
	return evt.Seq != 0 && evt.Seq < s.latest[evt.Type]
}

// take dequeues without blocking.
func (s *Subscriber) take() (printer.Event, bool) {
	select {
	case evt := <-s.queue:
		return evt, true
	default:
		return printer.Event{}, false
	}
}

func (s *Subscriber) drain() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Registry is a fixed-capacity arena of subscriber slots with free-list
// reuse. Capacity never changes after construction.
type Registry struct {
	mu     sync.Mutex
	slots  []*Subscriber
	free   []SlotID
	active int
}

// NewRegistry allocates capacity slots, each with a queue of queueSize.
func NewRegistry(capacity, queueSize int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &Registry{
		slots: make([]*Subscriber, capacity),
		free:  make([]SlotID, 0, capacity),
	}
	for i := range r.slots {
		r.slots[i] = &Subscriber{
			id:     SlotID(i),
			queue:  make(chan printer.Event, queueSize),
			latest: make(map[printer.EventType]uint64),
		}
	}
	// Pop from the tail so slot 0 is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		r.free = append(r.free, SlotID(i))
	}
	return r
}

// Add claims a free slot for conn.
func (r *Registry) Add(conn Conn) (SlotID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.free) == 0 {
		return -1, ErrRegistryFull
	}
	id := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	s := r.slots[id]
	s.session = uuid.NewString()
	s.conn = conn
	s.active = true
	s.congested = false
	s.stats = &SubscriberStats{}
	s.lane = &lane{}
	clear(s.latest)
	r.active++
	return id, nil
}

// Remove frees the slot holding conn and discards its queued events.
// It reports whether conn was registered.
func (r *Registry) Remove(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.active && s.conn == conn {
			r.release(s)
			return true
		}
	}
	return false
}

// RemoveSlot frees slot id and discards its queued events.
func (r *Registry) RemoveSlot(id SlotID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slot(id)
	if !ok {
		return false
	}
	r.release(s)
	return true
}

// Lookup returns the slot holding conn.
func (r *Registry) Lookup(conn Conn) (SlotID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.active && s.conn == conn {
			return s.id, true
		}
	}
	return -1, false
}

// Session returns the session id assigned to slot id when it was added.
func (r *Registry) Session(id SlotID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slot(id)
	if !ok {
		return "", false
	}
	return s.session, true
}

// Enqueue offers events to a single subscriber in order and returns how
// many were accepted. An event older than one of its type already queued
// is skipped and counts as accepted. Events past the first rejection are
// still offered; the drop-newest rule applies per event.
func (r *Registry) Enqueue(id SlotID, evts ...printer.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slot(id)
	if !ok {
		return 0, ErrUnknownSlot
	}
	n := 0
	for _, evt := range evts {
		if s.superseded(evt) || s.offer(evt) {
			n++
		}
	}
	return n, nil
}

// ForEachActive calls fn for every active slot while holding the registry
// lock. fn must not block or call back into the registry.
func (r *Registry) ForEachActive(fn func(s *Subscriber)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.active {
			fn(s)
		}
	}
}

// Len returns the number of active subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Cap returns the fixed slot capacity.
func (r *Registry) Cap() int {
	return len(r.slots)
}

// Subscribers lists active subscribers in slot order.
func (r *Registry) Subscribers() []SubscriberInfo {
	var out []SubscriberInfo
	r.ForEachActive(func(s *Subscriber) {
		out = append(out, SubscriberInfo{
			Slot:    s.id,
			Session: s.session,
			Queued:  len(s.queue),
			Sent:    s.stats.Sent.Load(),
			Dropped: s.stats.Dropped.Load(),
			Failed:  s.stats.Failed.Load(),
		})
	})
	return out
}

func (r *Registry) slot(id SlotID) (*Subscriber, bool) {
	if id < 0 || int(id) >= len(r.slots) {
		return nil, false
	}
	s := r.slots[id]
	if !s.active {
		return nil, false
	}
	return s, true
}

func (r *Registry) release(s *Subscriber) {
	s.active = false
	s.conn = nil
	s.drain()
	r.free = append(r.free, s.id)
	r.active--
}
