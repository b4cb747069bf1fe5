// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/quickly-quorum/events"
)

// DefaultReconnectDelay is the fixed wait before reconnecting.
const DefaultReconnectDelay = 3 * time.Second

// ErrStreamClosed is returned by Next when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

type State int

const (
	Idle State = iota
	Connecting
	Open
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Conn is one open stream. Next blocks until an event arrives, the stream
// fails, or ctx is done.
type Conn interface {
	Next(ctx context.Context) (events.Event, error)
	Close() error
}

// Transport opens a stream for an assembly. Dial returns once the server
// has accepted the stream.
type Transport interface {
	Dial(ctx context.Context, assemblyID string) (Conn, error)
}

// Client keeps one stream open for one assembly, reconnecting after a
// fixed delay whenever it drops.
type Client struct {
	transport  Transport
	assemblyID string
	delay      time.Duration
	handler    func(events.Event)
	onState    func(State)
	logger     *slog.Logger

	mu          sync.Mutex
	state       State
	lastEventAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

type Option func(*Client)

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithHandler receives every event in arrival order on the client's loop
// goroutine.
func WithHandler(fn func(events.Event)) Option {
	return func(c *Client) { c.handler = fn }
}

func WithStateHandler(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(transport Transport, assemblyID string, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		assemblyID: assemblyID,
		delay:      DefaultReconnectDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the stream. Calling Start on a running client does nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done)
}

// Stop closes the connection, cancels any pending reconnect and waits for
// the client to return to Idle.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// detach forgets a finished loop so a later Start can open a new one,
// including when the loop ended because the parent ctx was cancelled.
func (c *Client) detach(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.cancel()
		c.done = nil
		c.cancel = nil
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastEventAt is when the most recent event, heartbeats included, arrived.
func (c *Client) LastEventAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventAt
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.detach(done)
	defer c.setState(Idle)

	for {
		c.setState(Connecting)
		conn, err := c.transport.Dial(ctx, c.assemblyID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream connect failed", "assembly_id", c.assemblyID, "error", err)
		} else {
			c.setState(Open)
			c.logger.Info("stream open", "assembly_id", c.assemblyID)
			err = c.consume(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream dropped", "assembly_id", c.assemblyID, "error", err)
		}

		c.setState(Error)
		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) consume(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}
		c.mu.Lock()
		c.lastEventAt = ev.ReceivedAt
		c.mu.Unlock()
		if c.handler != nil {
			c.handler(ev)
		}
	}
}
