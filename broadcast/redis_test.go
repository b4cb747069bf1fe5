// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/quickly-quorum/events"
)

func newTestRedisBroker(t *testing.T, mr *miniredis.Miniredis) *RedisBroker {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rb, err := NewRedisBrokerFromClient(context.Background(), rdb, 4)
	require.NoError(t, err)
	t.Cleanup(func() { rb.Close() })
	return rb
}

func TestRedisBroker_RelaysAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	first := newTestRedisBroker(t, mr)
	second := newTestRedisBroker(t, mr)

	sub := second.Subscribe("a1")
	other := second.Subscribe("a2")

	msg, err := events.NewMessage(events.CheckinUpdate, events.CheckinPayload{UnitsPresent: 2, FractionPresent: 75})
	require.NoError(t, err)
	require.NoError(t, first.Publish(context.Background(), "a1", msg))

	got := receive(t, sub)
	assert.Equal(t, events.CheckinUpdate, got.Event)

	var p events.CheckinPayload
	require.NoError(t, events.Parse(got.Event, string(got.Data)).Decode(&p))
	assert.Equal(t, 2, p.UnitsPresent)
	assert.Equal(t, 75.0, p.FractionPresent)

	select {
	case <-other.C:
		t.Fatal("other assembly must not receive the event")
	default:
	}
}

func TestRedisBroker_DiscardsMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	rb := newTestRedisBroker(t, mr)
	sub := rb.Subscribe("a1")

	mr.Publish(ChannelName("a1"), "not json")
	require.NoError(t, rb.Publish(context.Background(), "a1", events.HeartbeatMessage()))

	assert.Equal(t, events.Heartbeat, receive(t, sub).Event)
}

func TestNewRedisBroker_BadURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), "://nope", 1)
	assert.Error(t, err)
}

func TestRedisBroker_CloseEndsSubscriptions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rb, err := NewRedisBrokerFromClient(context.Background(), rdb, 1)
	require.NoError(t, err)

	sub := rb.Subscribe("a1")
	require.NoError(t, rb.Close())
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, rb.Close())
}
