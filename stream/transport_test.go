// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/quickly-quorum/events"
)

func collect(t *testing.T, ch <-chan events.Event, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestSSETransport_ParsesFrames(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assemblies/as1/stream" {
			http.NotFound(w, r)
			return
		}
		gotKey.Store(r.Header.Get("X-Operator-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: checkin_update\ndata: {\"units_present\":2}\n\n")
		fmt.Fprint(w, "event: vote_update\r\ndata: {\"agenda_id\":\r\ndata: \"ag1\"}\r\n\r\n")
		fmt.Fprint(w, "event: checkin_update\ndata: plain text\n\n")
		fmt.Fprint(w, "data: {\"x\":1}\nid: 7\nretry: 100\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := &SSETransport{BaseURL: srv.URL + "/", Header: http.Header{"X-Operator-Key": []string{"k1"}}}
	conn, err := tr.Dial(context.Background(), "as1")
	require.NoError(t, err)
	defer conn.Close()

	var got []events.Event
	for i := 0; i < 4; i++ {
		ev, err := conn.Next(context.Background())
		require.NoError(t, err)
		got = append(got, ev)
	}

	assert.Equal(t, "k1", gotKey.Load())
	assert.Equal(t, events.CheckinUpdate, got[0].Name)
	assert.JSONEq(t, `{"units_present":2}`, string(got[0].JSON))

	assert.Equal(t, events.VoteUpdate, got[1].Name)
	var vote events.VotePayload
	require.NoError(t, got[1].Decode(&vote))
	assert.Equal(t, "ag1", vote.AgendaID)

	assert.Equal(t, events.CheckinUpdate, got[2].Name)
	assert.Nil(t, got[2].JSON)
	assert.Equal(t, "plain text", got[2].Raw)

	assert.Equal(t, "message", got[3].Name)
}

func TestSSETransport_RejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&SSETransport{BaseURL: srv.URL}).Dial(context.Background(), "as1")
	assert.ErrorContains(t, err, "401")
}

func TestSSETransport_ClientReconnects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: heartbeat\ndata: {\"n\":%d}\n\n", n)
		w.(http.Flusher).Flush()
		if n == 1 {
			return // drop the first connection
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	got := make(chan events.Event, 8)
	c := New(&SSETransport{BaseURL: srv.URL}, "as1",
		WithReconnectDelay(20*time.Millisecond),
		WithHandler(func(ev events.Event) { got <- ev }),
	)
	c.Start(context.Background())
	defer c.Stop()

	evs := collect(t, got, 2)
	assert.JSONEq(t, `{"n":1}`, string(evs[0].JSON))
	assert.JSONEq(t, `{"n":2}`, string(evs[1].JSON))
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assemblies/as1/ws" {
			http.NotFound(w, r)
			return
		}
		wc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer wc.Close()
		wc.WriteMessage(websocket.TextMessage, []byte(`{"event":"agenda_update","data":{"agenda_id":"ag1","status":"open"}}`))
		wc.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		wc.WriteMessage(websocket.TextMessage, []byte(`hello`))
		wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		wc.ReadMessage()
	}))
	defer srv.Close()

	conn, err := (&WebSocketTransport{BaseURL: srv.URL}).Dial(context.Background(), "as1")
	require.NoError(t, err)
	defer conn.Close()

	ev, err := conn.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events.AgendaUpdate, ev.Name)
	var p events.AgendaPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, events.AgendaPayload{AgendaID: "ag1", Status: "open"}, p)

	ev, err = conn.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Name)
	assert.Equal(t, "hello", ev.Raw)

	_, err = conn.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWebSocketTransport_CancelUnblocksNext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer wc.Close()
		wc.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := (&WebSocketTransport{BaseURL: srv.URL}).Dial(ctx, "as1")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Next(ctx)
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
	assert.NoError(t, conn.Close())
}
