// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/quickly-quorum/events"
)

// WebSocketTransport reads JSON frames {"event": ..., "data": ...} from
// {BaseURL}/assemblies/{id}/ws. BaseURL may use http(s) or ws(s).
type WebSocketTransport struct {
	BaseURL string
	Header  http.Header
	Dialer  *websocket.Dialer
}

func (t *WebSocketTransport) Dial(ctx context.Context, assemblyID string) (Conn, error) {
	base := strings.TrimRight(t.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	endpoint := base + "/assemblies/" + url.PathEscape(assemblyID) + "/ws"

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	wc, resp, err := dialer.DialContext(ctx, endpoint, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open websocket: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open websocket: %w", err)
	}

	c := &wsConn{wc: wc}
	c.stop = context.AfterFunc(ctx, func() { c.Close() })
	return c, nil
}

type wsConn struct {
	wc   *websocket.Conn
	stop func() bool
	once sync.Once
}

func (c *wsConn) Next(ctx context.Context) (events.Event, error) {
	for {
		op, payload, err := c.wc.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return events.Event{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return events.Event{}, ErrStreamClosed
			}
			return events.Event{}, err
		}
		if op != websocket.TextMessage {
			continue
		}
		var msg events.Message
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Event == "" {
			return events.Parse("message", string(payload)), nil
		}
		return events.Parse(msg.Event, string(msg.Data)), nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.stop()
		err = c.wc.Close()
	})
	return err
}
