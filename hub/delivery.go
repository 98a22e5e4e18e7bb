package hub

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"printbridge/printer"
)

const (
	DefaultIdle  = 10 * time.Millisecond
	DefaultBatch = 16
)

// SeedSource produces the snapshot-as-events sequence for late joiners.
type SeedSource interface {
	SeedEvents() []printer.Event
}

type outbound struct {
	id    SlotID
	conn  Conn
	stats *SubscriberStats
	lane  *lane
	evts  []printer.Event
}

// Delivery drains subscriber queues and writes events to their
// transports. The loop only dispatches: each registration's batch is sent
// by its own goroutine outside the registry lock, so a slow transport
// delays nobody but its owner and a subscriber leaving mid-send never
// waits on the transport.
type Delivery struct {
	reg   *Registry
	seed  SeedSource
	idle  time.Duration
	batch int

	delivered atomic.Uint64
	failed    atomic.Uint64

	wake     chan struct{}
	senders  sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDelivery creates a delivery loop. idle is the pause between passes
// that found nothing to send; batch caps events taken per subscriber per
// pass.
func NewDelivery(reg *Registry, seed SeedSource, idle time.Duration, batch int) *Delivery {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Delivery{
		reg:      reg,
		seed:     seed,
		idle:     idle,
		batch:    batch,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine.
func (d *Delivery) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop ends the loop and waits for sends in flight to finish.
func (d *Delivery) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
	d.senders.Wait()
}

func (d *Delivery) loop() {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		default:
		}

		if d.dispatch(nil) > 0 {
			continue
		}

		timer.Reset(d.idle)
		select {
		case <-d.stopChan:
			return
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// RunOnce makes a single pass over every active subscriber, waits for the
// sends it started and returns how many events it attempted. It must not
// be called concurrently with the running loop.
func (d *Delivery) RunOnce() int {
	var done sync.WaitGroup
	n := d.dispatch(&done)
	done.Wait()
	return n
}

// dispatch takes up to batch events from every subscriber with no send in
// flight and starts one sender per subscriber. done, when set, tracks the
// senders started by this pass.
func (d *Delivery) dispatch(done *sync.WaitGroup) int {
	var work []outbound
	d.reg.ForEachActive(func(s *Subscriber) {
		if s.lane.busy.Load() {
			return
		}
		var evts []printer.Event
		for i := 0; i < d.batch; i++ {
			evt, ok := s.take()
			if !ok {
				break
			}
			evts = append(evts, evt)
		}
		if len(evts) == 0 {
			return
		}
		s.lane.busy.Store(true)
		work = append(work, outbound{id: s.id, conn: s.conn, stats: s.stats, lane: s.lane, evts: evts})
	})

	n := 0
	for _, o := range work {
		n += len(o.evts)
		d.senders.Add(1)
		if done != nil {
			done.Add(1)
		}
		go d.run(o, done)
	}
	return n
}

func (d *Delivery) run(o outbound, done *sync.WaitGroup) {
	defer d.senders.Done()
	for _, evt := range o.evts {
		d.send(o.id, o.conn, o.stats, evt)
	}
	o.lane.busy.Store(false)
	if done != nil {
		done.Done()
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Delivery) send(id SlotID, conn Conn, stats *SubscriberStats, evt printer.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("hub: encode %s event: %v", evt.Type, err)
		d.failed.Add(1)
		stats.Failed.Add(1)
		return
	}
	if err := conn.SendText(data); err != nil {
		log.Printf("hub: send %s event to subscriber %d: %v", evt.Type, id, err)
		d.failed.Add(1)
		stats.Failed.Add(1)
		return
	}
	d.delivered.Add(1)
	stats.Sent.Add(1)
}

// Seed queues the snapshot-as-events sequence for subscriber id. The
// snapshot is taken before the registry lock is acquired; a seed event
// older than a live event already queued for the subscriber is skipped.
func (d *Delivery) Seed(id SlotID) error {
	evts := d.seed.SeedEvents()
	n, err := d.reg.Enqueue(id, evts...)
	if err != nil {
		return err
	}
	if n < len(evts) {
		log.Printf("hub: subscriber %d seed truncated, queued %d of %d events", id, n, len(evts))
	}
	return nil
}

// Delivered returns the number of successful sends.
func (d *Delivery) Delivered() uint64 { return d.delivered.Load() }

// Failed returns the number of failed sends.
func (d *Delivery) Failed() uint64 { return d.failed.Load() }
