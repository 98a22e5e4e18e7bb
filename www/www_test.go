package www

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"printbridge/config"
	"printbridge/engine"
	"printbridge/link"
	"printbridge/printer"
)

func failingOpener() (io.ReadWriteCloser, error) {
	return nil, errors.New("no printer")
}

func pipeOpener() (link.Opener, chan net.Conn) {
	far := make(chan net.Conn, 4)
	return func() (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		far <- b
		return a, nil
	}, far
}

// testServer starts an engine and an HTTP server around it.
func testServer(t *testing.T, opener link.Opener, maxSubs int) (*engine.Engine, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Link.Chirp = ""
	cfg.Link.InitCommands = nil
	cfg.Link.ReconnectInterval = 10 * time.Millisecond
	cfg.Bridge.MaxSubscribers = maxSubs
	cfg.Bridge.DeliveryIdle = time.Millisecond

	eng := engine.New(engine.Config{AppConfig: cfg, Opener: opener})
	eng.Start()
	t.Cleanup(eng.Stop)

	router, stop := NewRouter(eng)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(stop)
	return eng, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestAPI_StatusAndState(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var status map[string]bool
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if connected, ok := status["connected"]; !ok || connected {
		t.Errorf("status = %v, want connected=false", status)
	}

	resp, err = http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap printer.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Connected {
		t.Error("snapshot says connected")
	}
}

func TestAPI_SendAlwaysOK(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)

	for _, u := range []string{"/api/send?cmd=G28", "/api/send"} {
		resp, err := http.Get(srv.URL + u)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Errorf("%s -> %d %q, want 200 OK", u, resp.StatusCode, body)
		}
	}
}

func TestAPI_CommandsWithoutJournal(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)
	resp, err := http.Get(srv.URL + "/api/commands")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIndex(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "printbridge") {
		t.Error("index page missing title")
	}
}

func TestWS_HelloSeedsState(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	want := []string{"status", "temperature", "progress", "position", "power"}
	for _, typ := range want {
		m := readFrame(t, c)
		if m["type"] != typ {
			t.Fatalf("frame type = %v, want %s", m["type"], typ)
		}
	}
}

func TestWS_CommandRelay(t *testing.T) {
	open, far := pipeOpener()
	eng, srv := testServer(t, open, 2)
	printerEnd := <-far
	defer printerEnd.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !eng.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(printerEnd).ReadString('\n')
		got <- line
	}()
	c.WriteMessage(websocket.TextMessage, []byte("cmd:G28"))

	select {
	case line := <-got:
		if line != "G28\n" {
			t.Errorf("printer got %q, want %q", line, "G28\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not relayed")
	}

	// live telemetry reaches the socket
	printerEnd.Write([]byte("X:10.00 Y:20.00 Z:1.50 E:0.00 Count X:10.00\n"))
	for {
		m := readFrame(t, c)
		if m["type"] == "position" {
			if m["x"] != 10.0 || m["z"] != 1.5 {
				t.Errorf("position = %v", m)
			}
			break
		}
	}
}

func TestWS_RegistryFullCloses1013(t *testing.T) {
	_, srv := testServer(t, failingOpener, 1)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	if !websocket.IsCloseError(err, CloseTryAgainLater) {
		t.Errorf("read err = %v, want close 1013", err)
	}
}

func TestSSE_SeedsOnConnect(t *testing.T) {
	_, srv := testServer(t, failingOpener, 2)

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	var types []string
	for len(types) < 5 {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		types = append(types, m["type"].(string))
	}
	if types[0] != "status" || types[4] != "power" {
		t.Errorf("seed types = %v", types)
	}
}

func TestSSE_RegistryFull503(t *testing.T) {
	eng, srv := testServer(t, failingOpener, 1)

	first, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer first.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for eng.Registry().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
