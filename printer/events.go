package printer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType identifies the kind of event derived from the console stream.
type EventType int

const (
	EventTemperature EventType = iota + 1
	EventProgress
	EventPosition
	EventPower
	EventStatus
	EventLog
	EventError
)

var eventTypeNames = map[EventType]string{
	EventTemperature: "temperature",
	EventProgress:    "progress",
	EventPosition:    "position",
	EventPower:       "power",
	EventStatus:      "status",
	EventLog:         "log",
	EventError:       "error",
}

// String returns the wire name used in the "type" field.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is the envelope handed from the parser to the fan-out path.
// Payload is one of the value types below and is never mutated after
// the event is created, so an Event can sit in a queue indefinitely.
// Seq orders state events of the same type; zero means unordered.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
	Seq       uint64
}

// MarshalJSON renders the event as a flat object with the payload fields
// next to "type", e.g. {"type":"status","connected":true}.
func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s payload: not an object", e.Type)
	}

	out := make([]byte, 0, len(body)+24)
	out = append(out, `{"type":`...)
	out = strconv.AppendQuote(out, e.Type.String())
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// Zone is a heated zone with a setpoint.
type Zone struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

// Reading is a zone that only reports its current value.
type Reading struct {
	Current float64 `json:"current"`
}

// Temperatures is the payload of EventTemperature.
type Temperatures struct {
	Nozzle    Zone    `json:"nozzle"`
	Bed       Zone    `json:"bed"`
	Heatbreak Zone    `json:"heatbreak"`
	Chamber   Reading `json:"chamber"`
}

// Progress is the payload of EventProgress. Times are in minutes;
// ChangeTime is -1 when the firmware reports it as unknown.
type Progress struct {
	Percent    int `json:"percent"`
	TimeLeft   int `json:"timeLeft"`
	ChangeTime int `json:"changeTime"`
}

// Position is the payload of EventPosition.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	E float64 `json:"e"`
}

// Power is the payload of EventPower (heater duty values).
type Power struct {
	Nozzle    int `json:"nozzle"`
	Bed       int `json:"bed"`
	Heatbreak int `json:"heatbreak"`
}

// Status is the payload of EventStatus.
type Status struct {
	Connected bool `json:"connected"`
}

// LogLine is the payload of EventLog.
type LogLine struct {
	Message string `json:"message"`
}

// Fault is the payload of EventError.
type Fault struct {
	Message string `json:"message"`
}

// NewEvent stamps a payload with its type and the current time.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

// LogEvent wraps a raw console line.
func LogEvent(line string) Event {
	return NewEvent(EventLog, LogLine{Message: line})
}

// ErrorEvent reports a non-fatal bridge error to observers.
func ErrorEvent(msg string) Event {
	return NewEvent(EventError, Fault{Message: msg})
}
