package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"printbridge/printer"
)

// Envelope wraps one printer event for the broker.
type Envelope struct {
	ID        string          `json:"id"`
	Node      string          `json:"node"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Event     json.RawMessage `json:"event"`
}

// NewEnvelope encodes evt for node.
func NewEnvelope(node string, evt printer.Event) (*Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Node:      node,
		Type:      evt.Type.String(),
		Timestamp: ts.UTC(),
		Event:     data,
	}, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
