package printer

import "sync"

// Snapshot is a point-in-time copy of everything the bridge knows about
// the printer.
type Snapshot struct {
	Temperatures Temperatures `json:"temperatures"`
	Progress     Progress     `json:"progress"`
	Position     Position     `json:"position"`
	Power        Power        `json:"power"`
	Connected    bool         `json:"connected"`
}

// ProgressUpdate carries the progress fields found on one line.
// Nil fields are left unchanged.
type ProgressUpdate struct {
	Percent    *int
	TimeLeft   *int
	ChangeTime *int
}

func (u ProgressUpdate) empty() bool {
	return u.Percent == nil && u.TimeLeft == nil && u.ChangeTime == nil
}

// PowerUpdate carries the heater duty fields found on one line.
// Nil fields are left unchanged.
type PowerUpdate struct {
	Nozzle    *int
	Bed       *int
	Heatbreak *int
}

func (u PowerUpdate) empty() bool {
	return u.Nozzle == nil && u.Bed == nil && u.Heatbreak == nil
}

// State is the canonical printer state. Every mutation returns the
// event describing it, built under the same lock, so an event never
// describes a half-applied update. Events carry the sequence number of
// the mutation that produced them; seed events carry the sequence of the
// last mutation of their dimension.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	seq  uint64
	vers map[EventType]uint64
}

// NewState returns an empty state with the link marked disconnected.
func NewState() *State {
	return &State{vers: make(map[EventType]uint64)}
}

// Snapshot returns a copy of the full state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// stamp must be called with mu held.
func (s *State) stamp(t EventType, payload interface{}) Event {
	s.seq++
	s.vers[t] = s.seq
	evt := NewEvent(t, payload)
	evt.Seq = s.seq
	return evt
}

// SetNozzleBed applies a dual-zone temperature reading.
func (s *State) SetNozzleBed(nozzle, bed Zone) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Temperatures.Nozzle = nozzle
	s.snap.Temperatures.Bed = bed
	return s.stamp(EventTemperature, s.snap.Temperatures)
}

// SetHeatbreak applies a heatbreak reading.
func (s *State) SetHeatbreak(z Zone) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Temperatures.Heatbreak = z
	return s.stamp(EventTemperature, s.snap.Temperatures)
}

// SetChamber applies a chamber reading.
func (s *State) SetChamber(r Reading) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Temperatures.Chamber = r
	return s.stamp(EventTemperature, s.snap.Temperatures)
}

// UpdateProgress applies the non-nil progress fields. A job at zero
// percent with no pending filament change has no remaining time.
func (s *State) UpdateProgress(u ProgressUpdate) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Percent != nil {
		s.snap.Progress.Percent = *u.Percent
	}
	if u.TimeLeft != nil {
		s.snap.Progress.TimeLeft = *u.TimeLeft
	}
	if u.ChangeTime != nil {
		s.snap.Progress.ChangeTime = *u.ChangeTime
	}
	if s.snap.Progress.Percent == 0 && s.snap.Progress.ChangeTime == 0 {
		s.snap.Progress.TimeLeft = 0
	}
	return s.stamp(EventProgress, s.snap.Progress)
}

// SetPosition applies a four-axis position report.
func (s *State) SetPosition(p Position) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Position = p
	return s.stamp(EventPosition, s.snap.Position)
}

// UpdatePower applies the non-nil heater duty fields.
func (s *State) UpdatePower(u PowerUpdate) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Nozzle != nil {
		s.snap.Power.Nozzle = *u.Nozzle
	}
	if u.Bed != nil {
		s.snap.Power.Bed = *u.Bed
	}
	if u.Heatbreak != nil {
		s.snap.Power.Heatbreak = *u.Heatbreak
	}
	return s.stamp(EventPower, s.snap.Power)
}

// SetConnected records the link state.
func (s *State) SetConnected(connected bool) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connected = connected
	return s.stamp(EventStatus, Status{Connected: connected})
}

// SeedEvents returns one event per state dimension, all taken from a
// single snapshot. A subscriber that joins late replays these to
// converge on the current state.
func (s *State) SeedEvents() []Event {
	s.mu.RLock()
	snap := s.snap
	seeded := func(t EventType, payload interface{}) Event {
		evt := NewEvent(t, payload)
		evt.Seq = s.vers[t]
		return evt
	}
	evts := []Event{
		seeded(EventStatus, Status{Connected: snap.Connected}),
		seeded(EventTemperature, snap.Temperatures),
		seeded(EventProgress, snap.Progress),
		seeded(EventPosition, snap.Position),
		seeded(EventPower, snap.Power),
	}
	s.mu.RUnlock()
	return evts
}
