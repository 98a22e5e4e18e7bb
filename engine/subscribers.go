package engine

import (
	"printbridge/hub"
)

// Join registers a transport connection with the hub. It fails with
// hub.ErrRegistryFull when every slot is taken.
func (e *Engine) Join(conn hub.Conn) (hub.SlotID, error) {
	id, err := e.registry.Add(conn)
	if err != nil {
		return id, err
	}
	e.debugFn("hub: subscriber %d joined (%d/%d)", id, e.registry.Len(), e.registry.Cap())
	return id, nil
}

// Leave unregisters a connection and discards its queue.
func (e *Engine) Leave(conn hub.Conn) {
	if e.registry.Remove(conn) {
		e.debugFn("hub: subscriber left (%d/%d)", e.registry.Len(), e.registry.Cap())
	}
}

// Seed queues the current state for subscriber id, ahead of any later
// live events.
func (e *Engine) Seed(id hub.SlotID) error {
	return e.delivery.Seed(id)
}

// Stats is a point-in-time view of hub and pipeline counters.
type Stats struct {
	Connected     bool                 `json:"connected"`
	Emitted       uint64               `json:"emitted"`
	Published     uint64               `json:"published"`
	Dropped       uint64               `json:"dropped"`
	Delivered     uint64               `json:"delivered"`
	Failed        uint64               `json:"failed"`
	LineOverflows uint64               `json:"line_overflows"`
	Active        int                  `json:"active"`
	Capacity      int                  `json:"capacity"`
	Subscribers   []hub.SubscriberInfo `json:"subscribers"`
	Consumers     []ConsumerInfo       `json:"consumers"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Connected:     e.Connected(),
		Emitted:       e.Events.Emitted(),
		Published:     e.broadcaster.Published(),
		Dropped:       e.broadcaster.Dropped(),
		Delivered:     e.delivery.Delivered(),
		Failed:        e.delivery.Failed(),
		LineOverflows: e.assembler.Overflows(),
		Active:        e.registry.Len(),
		Capacity:      e.registry.Cap(),
		Subscribers:   e.registry.Subscribers(),
		Consumers:     e.Events.Consumers(),
	}
}
