// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package stream keeps a live event stream open for one assembly.

Client is a small state machine:

	Idle -> Connecting -> Open
	Open | Connecting -> Error -> (after delay) Connecting
	any -> Idle on Stop

A single loop goroutine owns the connection and the reconnect timer, so a
client never holds more than one connection or more than one pending
reconnect. Events are handed to the handler in arrival order, without
deduplication; payloads that are not JSON arrive with Raw set.

Two transports are provided:

	&stream.SSETransport{BaseURL: base, Header: hdr}        // text/event-stream
	&stream.WebSocketTransport{BaseURL: base, Header: hdr}  // JSON frames

Typical use:

	c := stream.New(transport, assemblyID, stream.WithHandler(dispatcher.Handle))
	c.Start(ctx)
	defer c.Stop()
*/
package stream
