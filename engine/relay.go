package engine

import (
	"fmt"
	"log"

	"printbridge/printer"
	"printbridge/store"
)

// Command sources recorded in the journal.
const (
	SourceWebSocket = "ws"
	SourceHTTP      = "http"
	SourceBroker    = "broker"
)

// SendCommand forwards cmd to the printer verbatim with a newline
// appended. Commands are dropped silently when the link is down. It
// reports whether the command was written.
func (e *Engine) SendCommand(source, cmd string) bool {
	if !e.link.Connected() {
		e.debugFn("relay: link down, dropping %s command %q", source, cmd)
		e.recordCommand(source, cmd, store.OutcomeDropped, "")
		return false
	}

	if err := e.link.Send([]byte(cmd+"\n"), e.cfg.Link.TxTimeout); err != nil {
		log.Printf("relay: send %s command %q: %v", source, cmd, err)
		e.Events.Emit(printer.ErrorEvent(fmt.Sprintf("command %q not sent: %v", cmd, err)))
		e.recordCommand(source, cmd, store.OutcomeFailed, err.Error())
		return false
	}

	e.debugFn("relay: %s -> %q", source, cmd)
	e.recordCommand(source, cmd, store.OutcomeSent, "")
	return true
}
