package engine

import (
	"printbridge/printer"
	"printbridge/store"
)

// busEmitter adapts the engine's EventBus to the printer.Emitter interface.
type busEmitter struct {
	bus *EventBus
}

func (b *busEmitter) Emit(evt printer.Event) {
	b.bus.Emit(evt)
}

// linkHandler adapts link callbacks to the ingestion pipeline. All calls
// arrive on the link read goroutine.
type linkHandler struct {
	e *Engine
}

func (h *linkHandler) OnConnect() {
	h.e.assembler.Reset()
	h.e.Events.Emit(h.e.state.SetConnected(true))
	h.e.recordLinkEvent(store.LinkConnected, "")
}

func (h *linkHandler) OnData(p []byte) {
	h.e.assembler.Write(p)
}

func (h *linkHandler) OnDisconnect(err error) {
	// a partial line from a dead session is not completed by the next one
	h.e.assembler.Reset()
	h.e.Events.Emit(h.e.state.SetConnected(false))
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.e.recordLinkEvent(store.LinkDisconnected, detail)
}
