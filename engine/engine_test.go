package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"printbridge/config"
	"printbridge/hub"
	"printbridge/link"
	"printbridge/printer"
	"printbridge/store"

	"github.com/google/go-cmp/cmp"
)

// mockConn records every frame delivered to it.
type mockConn struct {
	mu     sync.Mutex
	frames []map[string]interface{}
}

func (c *mockConn) SendText(p []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(p, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, m)
	c.mu.Unlock()
	return nil
}

func (c *mockConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func (c *mockConn) find(typ string) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		if f["type"] == typ {
			return f
		}
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Link.Chirp = ""
	cfg.Link.InitCommands = nil
	cfg.Link.ReconnectInterval = 10 * time.Millisecond
	cfg.Link.TxTimeout = 200 * time.Millisecond
	cfg.Bridge.DeliveryIdle = time.Millisecond
	return cfg
}

func pipeOpener() (link.Opener, chan net.Conn) {
	far := make(chan net.Conn, 4)
	return func() (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		far <- b
		return a, nil
	}, far
}

func newTestEngine(t *testing.T, opener link.Opener, db *store.DB) *Engine {
	t.Helper()
	e := New(Config{AppConfig: testConfig(), Opener: opener, DB: db, LogFunc: t.Logf})
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestEngine_TelemetryReachesSubscriber(t *testing.T) {
	open, far := pipeOpener()
	e := newTestEngine(t, open, nil)
	printerEnd := <-far
	defer printerEnd.Close()
	waitFor(t, time.Second, e.Connected)

	conn := &mockConn{}
	id, err := e.Join(conn)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := e.Seed(id); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(conn.types()) >= 5 })

	seed := conn.types()[:5]
	want := []string{"status", "temperature", "progress", "position", "power"}
	for i := range want {
		if seed[i] != want[i] {
			t.Fatalf("seed order = %v, want %v", seed, want)
		}
	}
	if conn.find("status")["connected"] != true {
		t.Errorf("seeded status = %v", conn.find("status"))
	}

	printerEnd.Write([]byte("T:210.0/210.0 B:60.0/60.0\r\n"))
	waitFor(t, time.Second, func() bool { return len(conn.types()) >= 7 })

	live := conn.types()[5:7]
	if live[0] != "log" || live[1] != "temperature" {
		t.Errorf("live = %v, want [log temperature]", live)
	}
	snap := e.Snapshot()
	if snap.Temperatures.Nozzle != (printer.Zone{Current: 210, Target: 210}) {
		t.Errorf("nozzle = %+v", snap.Temperatures.Nozzle)
	}
}

func TestEngine_DisconnectEmitsStatus(t *testing.T) {
	open, far := pipeOpener()
	e := newTestEngine(t, open, nil)
	first := <-far
	waitFor(t, time.Second, e.Connected)

	var mu sync.Mutex
	var statuses []bool
	e.Events.SubscribeTypes("test", func(evt printer.Event) {
		mu.Lock()
		statuses = append(statuses, evt.Payload.(printer.Status).Connected)
		mu.Unlock()
	}, printer.EventStatus)

	first.Close()
	waitFor(t, time.Second, func() bool { return !e.Connected() })

	second := <-far
	defer second.Close()
	waitFor(t, time.Second, e.Connected)

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 2 || statuses[0] != false || statuses[1] != true {
		t.Errorf("statuses = %v, want [false true]", statuses)
	}
}

func TestEngine_SendCommand(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	open, far := pipeOpener()
	e := newTestEngine(t, open, db)
	printerEnd := <-far
	defer printerEnd.Close()
	waitFor(t, time.Second, e.Connected)

	got := make(chan string, 2)
	go func() {
		r := bufio.NewReader(printerEnd)
		for i := 0; i < 2; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			got <- line
		}
	}()

	for _, cmd := range []string{"G28\r", "  M117 hello  "} {
		if !e.SendCommand(SourceWebSocket, cmd) {
			t.Fatalf("SendCommand(%q) returned false while connected", cmd)
		}
		select {
		case line := <-got:
			if line != cmd+"\n" {
				t.Errorf("printer received %q, want %q", line, cmd+"\n")
			}
		case <-time.After(time.Second):
			t.Fatalf("printer received nothing for %q", cmd)
		}
	}

	waitFor(t, time.Second, func() bool {
		n, _ := db.CountCommands(store.OutcomeSent)
		return n == 2
	})
	waitFor(t, time.Second, func() bool {
		evts, _ := db.ListLinkEvents(10)
		return len(evts) >= 1 && evts[len(evts)-1].Kind == store.LinkConnected
	})
}

func TestEngine_SendCommandDisconnected(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	e := newTestEngine(t, func() (io.ReadWriteCloser, error) {
		return nil, errors.New("no printer")
	}, db)

	if e.SendCommand(SourceBroker, "M105") {
		t.Error("SendCommand returned true while disconnected")
	}
	waitFor(t, time.Second, func() bool {
		n, _ := db.CountCommands(store.OutcomeDropped)
		return n == 1
	})
}

func TestEngine_SendFailureEmitsError(t *testing.T) {
	open, far := pipeOpener()
	e := newTestEngine(t, open, nil)
	printerEnd := <-far
	defer printerEnd.Close()
	waitFor(t, time.Second, e.Connected)

	var mu sync.Mutex
	var faults []string
	e.Events.SubscribeTypes("test", func(evt printer.Event) {
		mu.Lock()
		faults = append(faults, evt.Payload.(printer.Fault).Message)
		mu.Unlock()
	}, printer.EventError)

	// nobody reads the far end, so the write times out
	if e.SendCommand(SourceHTTP, "M105") {
		t.Fatal("SendCommand should fail when the write stalls")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(faults) != 1 {
		t.Fatalf("faults = %v, want one", faults)
	}
}

func TestEngine_RegistryFull(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.MaxSubscribers = 1
	e := New(Config{AppConfig: cfg, Opener: func() (io.ReadWriteCloser, error) { return nil, errors.New("x") }})

	a, b := &mockConn{}, &mockConn{}
	if _, err := e.Join(a); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Join(b); !errors.Is(err, hub.ErrRegistryFull) {
		t.Errorf("second Join err = %v, want ErrRegistryFull", err)
	}
	e.Leave(a)
	if _, err := e.Join(b); err != nil {
		t.Errorf("Join after Leave: %v", err)
	}
	if st := e.Stats(); st.Active != 1 || st.Capacity != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEventBus_FilterAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	var all, temps int
	bus.Subscribe("all", func(printer.Event) { all++ })
	id := bus.SubscribeTypes("temps", func(printer.Event) { temps++ }, printer.EventTemperature)

	bus.Emit(printer.Event{Type: printer.EventTemperature})
	bus.Emit(printer.LogEvent("ok"))
	bus.Unsubscribe(id)
	bus.Emit(printer.Event{Type: printer.EventTemperature})

	if all != 3 || temps != 1 {
		t.Errorf("all=%d temps=%d, want 3 and 1", all, temps)
	}
}

func TestEventBus_ConsumerPanicIsContained(t *testing.T) {
	var logged []string
	bus := NewEventBus(func(format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})
	var after []printer.EventType
	bus.SubscribeTypes("mirror", func(printer.Event) { panic("redis gone") }, printer.EventPosition)
	bus.Subscribe("hub", func(evt printer.Event) { after = append(after, evt.Type) })

	bus.Emit(printer.Event{Type: printer.EventPosition})
	bus.Emit(printer.LogEvent("ok"))

	want := []printer.EventType{printer.EventPosition, printer.EventLog}
	if diff := cmp.Diff(want, after); diff != "" {
		t.Errorf("later consumer mismatch (-want +got):\n%s", diff)
	}
	if len(logged) != 1 || !strings.Contains(logged[0], `"mirror"`) {
		t.Errorf("logged = %q", logged)
	}
	wantInfo := []ConsumerInfo{{Name: "mirror", Panics: 1}, {Name: "hub"}}
	if diff := cmp.Diff(wantInfo, bus.Consumers()); diff != "" {
		t.Errorf("consumers mismatch (-want +got):\n%s", diff)
	}
	if bus.Emitted() != 2 {
		t.Errorf("emitted = %d, want 2", bus.Emitted())
	}
}

func TestEventBus_SubscribeDuringEmit(t *testing.T) {
	bus := NewEventBus(nil)
	var late int
	bus.Subscribe("first", func(printer.Event) {
		bus.Subscribe("late", func(printer.Event) { late++ })
	})

	bus.Emit(printer.LogEvent("one"))
	if late != 0 {
		t.Errorf("consumer added mid-emit saw the current event")
	}
	bus.Emit(printer.LogEvent("two"))
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}
