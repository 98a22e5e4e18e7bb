package messaging

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
)

// RelayFunc forwards one command to the printer and reports whether it
// was written.
type RelayFunc func(source, text string) bool

// commandMessage is the JSON form of an inbound command.
type commandMessage struct {
	Cmd      string   `json:"cmd"`
	Commands []string `json:"commands"`
}

// DecodeCommands extracts command lines from a broker payload. A JSON
// object may carry "cmd" and/or "commands"; anything else is taken as
// plain text with one command per line.
func DecodeCommands(payload []byte) []string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}
	var lines []string
	if trimmed[0] == '{' {
		var msg commandMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			log.Printf("messaging: bad command message: %v", err)
			return nil
		}
		if msg.Cmd != "" {
			lines = append(lines, msg.Cmd)
		}
		lines = append(lines, msg.Commands...)
	} else {
		lines = strings.Split(string(trimmed), "\n")
	}

	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// CommandHandler returns a broker handler that relays every decoded
// command in order.
func CommandHandler(source string, relay RelayFunc) func(payload []byte) {
	return func(payload []byte) {
		for _, cmd := range DecodeCommands(payload) {
			relay(source, cmd)
		}
	}
}
