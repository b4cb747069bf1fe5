// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/quickly-quorum/events"
)

const channelPrefix = "assembly:"

// ChannelName is the Redis channel that carries an assembly's events.
func ChannelName(assemblyID string) string {
	return channelPrefix + assemblyID
}

// RedisBroker publishes through Redis so every server instance sees every
// event, then fans out to its own subscribers through a local Broker.
type RedisBroker struct {
	rdb    *redis.Client
	local  *Broker
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRedisBroker parses a redis:// URL and starts relaying.
func NewRedisBroker(ctx context.Context, redisURL string, buffer int) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBrokerFromClient(ctx, redis.NewClient(opts), buffer)
}

// NewRedisBrokerFromClient takes ownership of rdb.
func NewRedisBrokerFromClient(ctx context.Context, rdb *redis.Client, buffer int) (*RedisBroker, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pubsub := rdb.PSubscribe(ctx, channelPrefix+"*")
	// Wait for the subscription to be confirmed before publishing.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("subscribe redis: %w", err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	rb := &RedisBroker{
		rdb:    rdb,
		local:  NewBroker(buffer),
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go rb.relay(relayCtx)
	return rb, nil
}

func (rb *RedisBroker) relay(ctx context.Context) {
	defer close(rb.done)
	ch := rb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			assemblyID := strings.TrimPrefix(m.Channel, channelPrefix)
			var msg events.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.Warn("discarding malformed broadcast", "channel", m.Channel, "error", err)
				continue
			}
			rb.local.Publish(ctx, assemblyID, msg)
		}
	}
}

func (rb *RedisBroker) Publish(ctx context.Context, assemblyID string, msg events.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := rb.rdb.Publish(ctx, ChannelName(assemblyID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}
	return nil
}

func (rb *RedisBroker) Subscribe(assemblyID string) *Subscription {
	return rb.local.Subscribe(assemblyID)
}

func (rb *RedisBroker) Close() error {
	var err error
	rb.once.Do(func() {
		rb.cancel()
		err = rb.pubsub.Close()
		<-rb.done
		rb.local.Close()
		if cerr := rb.rdb.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
