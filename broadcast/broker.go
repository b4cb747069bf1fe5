// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/danielhkuo/quickly-quorum/events"
)

// DefaultBuffer is the per-subscriber queue size.
const DefaultBuffer = 32

// Publisher sends a message to every stream open on an assembly.
type Publisher interface {
	Publish(ctx context.Context, assemblyID string, msg events.Message) error
}

// Hub is a Publisher that streams can also subscribe to.
type Hub interface {
	Publisher
	Subscribe(assemblyID string) *Subscription
	Close() error
}

// Subscription receives the messages of one assembly until Cancel is called.
type Subscription struct {
	C <-chan events.Message

	ch         chan events.Message
	assemblyID string
	broker     *Broker
	once       sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.broker.remove(s) })
}

// Broker fans messages out to in-process subscribers. A subscriber whose
// queue is full misses the message; clients recover by refetching.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (b *Broker) Subscribe(assemblyID string) *Subscription {
	ch := make(chan events.Message, b.buffer)
	sub := &Subscription{C: ch, ch: ch, assemblyID: assemblyID, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	set, ok := b.subs[assemblyID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[assemblyID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.assemblyID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(b.subs, s.assemblyID)
	}
}

// Publish never blocks on a slow subscriber.
func (b *Broker) Publish(_ context.Context, assemblyID string, msg events.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[assemblyID] {
		select {
		case sub.ch <- msg:
		default:
			slog.Warn("subscriber queue full, dropping event",
				"assembly_id", assemblyID,
				"event", msg.Event,
			)
		}
	}
	return nil
}

// Subscribers returns how many streams are open on an assembly.
func (b *Broker) Subscribers(assemblyID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[assemblyID])
}

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
	return nil
}
