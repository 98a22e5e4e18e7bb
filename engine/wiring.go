package engine

import "printbridge/printer"

// wireEventHandlers sets up the event chain:
// parser/link events → broadcaster → subscriber queues
func (e *Engine) wireEventHandlers() {
	e.Events.Subscribe("hub", e.broadcaster.Publish)

	e.Events.SubscribeTypes("debug", func(evt printer.Event) {
		e.debugFn("state: %s %+v", evt.Type, evt.Payload)
	}, printer.EventTemperature, printer.EventProgress, printer.EventPosition, printer.EventPower, printer.EventStatus)

	e.Events.SubscribeTypes("errors", func(evt printer.Event) {
		if f, ok := evt.Payload.(printer.Fault); ok {
			e.logFn("bridge error: %s", f.Message)
		}
	}, printer.EventError)
}
