// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielhkuo/quickly-quorum/events"
)

// SSETransport reads text/event-stream from GET {BaseURL}/assemblies/{id}/stream.
type SSETransport struct {
	BaseURL string
	Header  http.Header
	// Client must not set a response timeout; streams stay open.
	Client *http.Client
}

func (t *SSETransport) Dial(ctx context.Context, assemblyID string) (Conn, error) {
	endpoint := strings.TrimRight(t.BaseURL, "/") + "/assemblies/" + url.PathEscape(assemblyID) + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}
	return &sseConn{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type sseConn struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// Next reads lines until a blank line ends an event. Comment lines and
// the id and retry fields are skipped.
func (c *sseConn) Next(ctx context.Context) (events.Event, error) {
	var (
		name    string
		data    []string
		hasData bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return events.Event{}, err
		}
		line, err := c.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return events.Event{}, ErrStreamClosed
			}
			return events.Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData && name == "" {
				continue
			}
			if name == "" {
				name = "message"
			}
			return events.Parse(name, strings.Join(data, "\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
