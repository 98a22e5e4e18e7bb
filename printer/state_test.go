package printer

import (
	"sync"
	"testing"
)

func TestState_SnapshotNeverTorn(t *testing.T) {
	st := NewState()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := float64(i)
			st.SetNozzleBed(Zone{Current: v, Target: v}, Zone{Current: v, Target: v})
		}
	}()

	for i := 0; i < 10000; i++ {
		snap := st.Snapshot()
		if snap.Temperatures.Nozzle != snap.Temperatures.Bed {
			close(stop)
			wg.Wait()
			t.Fatalf("torn snapshot: nozzle=%+v bed=%+v", snap.Temperatures.Nozzle, snap.Temperatures.Bed)
		}
	}
	close(stop)
	wg.Wait()
}

func TestState_UpdatesLeaveNilFields(t *testing.T) {
	st := NewState()
	p, l, c := 5, 50, 7
	st.UpdateProgress(ProgressUpdate{Percent: &p, TimeLeft: &l, ChangeTime: &c})

	p2 := 6
	got := st.UpdateProgress(ProgressUpdate{Percent: &p2})
	if got.Payload != (Progress{Percent: 6, TimeLeft: 50, ChangeTime: 7}) {
		t.Errorf("progress = %+v", got.Payload)
	}

	b := 80
	if got := st.UpdatePower(PowerUpdate{Bed: &b}); got.Payload != (Power{Bed: 80}) {
		t.Errorf("power = %+v", got.Payload)
	}
}

func TestState_SequenceStamps(t *testing.T) {
	st := NewState()
	first := st.SetNozzleBed(Zone{Current: 20}, Zone{Current: 20})
	pos := st.SetPosition(Position{X: 1})
	second := st.SetNozzleBed(Zone{Current: 215}, Zone{Current: 60})
	if !(first.Seq < pos.Seq && pos.Seq < second.Seq) {
		t.Fatalf("seq not increasing: %d %d %d", first.Seq, pos.Seq, second.Seq)
	}

	seqs := map[EventType]uint64{}
	for _, evt := range st.SeedEvents() {
		seqs[evt.Type] = evt.Seq
	}
	if seqs[EventTemperature] != second.Seq || seqs[EventPosition] != pos.Seq {
		t.Errorf("seed seqs = %v", seqs)
	}
	if seqs[EventPower] != 0 {
		t.Errorf("untouched dimension seq = %d, want 0", seqs[EventPower])
	}
}

func TestState_SeedEvents(t *testing.T) {
	st := NewState()
	st.SetConnected(true)
	st.SetNozzleBed(Zone{Current: 1, Target: 2}, Zone{Current: 3, Target: 4})
	st.SetPosition(Position{X: 1, Y: 2, Z: 3, E: 4})

	evts := st.SeedEvents()
	wantTypes := []EventType{EventStatus, EventTemperature, EventProgress, EventPosition, EventPower}
	if len(evts) != len(wantTypes) {
		t.Fatalf("seed events = %d, want %d", len(evts), len(wantTypes))
	}
	for i, want := range wantTypes {
		if evts[i].Type != want {
			t.Errorf("seed[%d] = %s, want %s", i, evts[i].Type, want)
		}
	}
	if !evts[0].Payload.(Status).Connected {
		t.Error("seed status should be connected")
	}
	if evts[3].Payload.(Position) != (Position{X: 1, Y: 2, Z: 3, E: 4}) {
		t.Errorf("seed position = %+v", evts[3].Payload)
	}
}
