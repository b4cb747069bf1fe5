// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/testutil"
)

func newStreamServer(t *testing.T, heartbeat time.Duration) (*httptest.Server, *broadcast.Broker, string) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	cfg.HeartbeatInterval = heartbeat
	broker := broadcast.NewBroker(0)

	assemblyID, _ := testutil.CreateTestAssembly(t, db, cfg)

	h := NewStreamHandler(db, cfg, broker)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assemblies/{id}/stream", h.SSE)
	mux.HandleFunc("GET /assemblies/{id}/ws", h.WebSocket)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		broker.Close()
		srv.Close()
	})
	return srv, broker, assemblyID
}

func waitForSubscribers(t *testing.T, broker *broadcast.Broker, assemblyID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers(assemblyID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, have %d", n, broker.Subscribers(assemblyID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readSSE returns the next event name and data from the stream.
func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name string
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" && name != "":
			return name, strings.Join(data, "\n")
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestSSE(t *testing.T) {
	srv, broker, assemblyID := newStreamServer(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/assemblies/"+assemblyID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	waitForSubscribers(t, broker, assemblyID, 1)

	msg, _ := events.NewMessage(events.CheckinUpdate, events.CheckinPayload{UnitsPresent: 2, FractionPresent: 65})
	broker.Publish(context.Background(), assemblyID, msg)

	name, data := readSSE(t, bufio.NewReader(resp.Body))
	if name != events.CheckinUpdate {
		t.Fatalf("Expected %s, got %s", events.CheckinUpdate, name)
	}
	var p events.CheckinPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Invalid payload %q: %v", data, err)
	}
	if p.UnitsPresent != 2 {
		t.Errorf("Expected 2 units present, got %d", p.UnitsPresent)
	}

	cancel()
	waitForSubscribers(t, broker, assemblyID, 0)
}

func TestSSE_Heartbeat(t *testing.T) {
	srv, _, assemblyID := newStreamServer(t, 50*time.Millisecond)

	resp, err := http.Get(srv.URL + "/assemblies/" + assemblyID + "/stream")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	name, data := readSSE(t, bufio.NewReader(resp.Body))
	if name != events.Heartbeat {
		t.Fatalf("Expected heartbeat, got %s", name)
	}
	if !strings.Contains(data, "alive") {
		t.Errorf("Unexpected heartbeat payload %q", data)
	}
}

func TestSSE_UnknownAssembly(t *testing.T) {
	srv, _, _ := newStreamServer(t, time.Hour)

	resp, err := http.Get(srv.URL + "/assemblies/missing/stream")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocket(t *testing.T) {
	srv, broker, assemblyID := newStreamServer(t, time.Hour)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/assemblies/" + assemblyID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, broker, assemblyID, 1)

	msg, _ := events.NewMessage(events.AgendaUpdate, events.AgendaPayload{AgendaID: "ag1", Status: "open"})
	broker.Publish(context.Background(), assemblyID, msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if got.Event != events.AgendaUpdate {
		t.Fatalf("Expected %s, got %s", events.AgendaUpdate, got.Event)
	}
	var p events.AgendaPayload
	if err := json.Unmarshal(got.Data, &p); err != nil || p.AgendaID != "ag1" {
		t.Errorf("Unexpected payload %s (%v)", got.Data, err)
	}

	// Client frames are ignored.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"server"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	conn.Close()
	waitForSubscribers(t, broker, assemblyID, 0)
}

func TestWebSocket_Heartbeat(t *testing.T) {
	srv, _, assemblyID := newStreamServer(t, 50*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/assemblies/" + assemblyID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if got.Event != events.Heartbeat {
		t.Errorf("Expected heartbeat, got %s", got.Event)
	}
}
