// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package broadcast delivers assembly events from mutating handlers to open
streams.

Broker is the in-process fan-out. RedisBroker relays through Redis pub/sub
(channel "assembly:{id}") so several server instances share one event
flow. Both implement Hub:

	hub := broadcast.NewBroker(broadcast.DefaultBuffer)
	sub := hub.Subscribe(assemblyID)
	defer sub.Cancel()
	for msg := range sub.C { ... }

Delivery is best effort. Subscribers with a full queue miss messages, and
clients converge by refetching authoritative state.
*/
package broadcast
