package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nvoss/trellis/internal/events"
)

type staticStatus struct {
	status Status
}

func (s *staticStatus) Status() Status { return s.status }

func startServer(t *testing.T, bus *events.Bus, status StatusProvider) *Server {
	t.Helper()
	server := NewServer(bus, status, &Config{Port: 0})
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	time.Sleep(50 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	server := startServer(t, bus, nil)
	if server.Addr() == "" {
		t.Fatal("server address is empty")
	}
}

func TestWebSocketRelaysBusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	server := startServer(t, bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Let the server register the client before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.SyncCompleted, map[string]any{"mode": "push", "synced": 3})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Name != events.SyncCompleted {
		t.Errorf("event name = %s, want %s", ev.Name, events.SyncCompleted)
	}
}

func TestStatusEndpoint(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	provider := &staticStatus{status: Status{
		Project:         "demo",
		ConnectionState: "connected",
	}}
	server := startServer(t, bus, provider)

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Project != "demo" || status.ConnectionState != "connected" {
		t.Errorf("status = %+v", status)
	}
	if status.PendingConflicts == nil {
		t.Error("pending conflicts not normalized to an empty list")
	}
}

func TestHealthEndpoint(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	server := startServer(t, bus, nil)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}
