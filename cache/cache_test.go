// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(calls *atomic.Int32) Fetcher {
	return func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}
}

func TestGet_CachesUntilTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := New(WithTTL(time.Minute), withClock(func() time.Time { return now }))
	defer c.Close()

	var calls atomic.Int32
	c.Register("k", counter(&calls))

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, _ = c.Get(context.Background(), "k")
	assert.Equal(t, 1, v, "expected cached value")

	now = now.Add(2 * time.Minute)
	v, _ = c.Get(context.Background(), "k")
	assert.Equal(t, 2, v, "expected refetch after ttl")
}

func TestGet_SharesConcurrentFetch(t *testing.T) {
	c := New()
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	c.Register("k", func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}

	// Let the goroutines join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_CallerDeadlineDoesNotFailSharedFetch(t *testing.T) {
	c := New()
	defer c.Close()

	var calls atomic.Int32
	c.Register("k", func(ctx context.Context) (any, error) {
		calls.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
			return "fresh", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	impatient := make(chan error, 1)
	go func() {
		_, err := c.Get(short, "k")
		impatient <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.ErrorIs(t, <-impatient, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_AbandonedFetchStillStored(t *testing.T) {
	c := New()
	defer c.Close()

	release := make(chan struct{})
	c.Register("k", func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "k")
		errc <- err
	}()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		v, ok := c.Peek("k")
		return ok && v == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestGet_FetchTimeout(t *testing.T) {
	c := New(WithFetchTimeout(20 * time.Millisecond))
	defer c.Close()

	c.Register("k", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGet_Errors(t *testing.T) {
	c := New()

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoFetcher)

	boom := errors.New("boom")
	c.Register("k", func(ctx context.Context) (any, error) { return nil, boom })
	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	_, ok := c.Peek("k")
	assert.False(t, ok, "failed fetch must not populate the cache")

	c.Close()
	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInvalidate_RefetchesRegisteredKeys(t *testing.T) {
	updated := make(chan string, 4)
	c := New(WithOnUpdate(func(key string) { updated <- key }))
	defer c.Close()

	var calls atomic.Int32
	c.Register("k", counter(&calls))
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	<-updated

	c.Invalidate("k", "unregistered")

	select {
	case key := <-updated:
		assert.Equal(t, "k", key)
	case <-time.After(2 * time.Second):
		t.Fatal("expected background refetch")
	}
	v, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestInvalidate_DuringFetchLeavesEntryStale(t *testing.T) {
	c := New()
	defer c.Close()

	var calls atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	c.Register("k", func(ctx context.Context) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			started <- struct{}{}
			<-release
		}
		return int(n), nil
	})

	done := make(chan any)
	go func() {
		v, _ := c.Get(context.Background(), "k")
		done <- v
	}()
	<-started

	// The invalidation starts its own fetch instead of joining the old one.
	c.Invalidate("k")
	close(release)
	assert.Equal(t, 1, <-done)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.(int), 2)
}

func TestReset_DiscardsInFlightResponse(t *testing.T) {
	c := New()
	defer c.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	c.Register("k", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "old", nil
	})

	errc := make(chan error)
	go func() {
		_, err := c.Get(context.Background(), "k")
		errc <- err
	}()
	<-started
	c.Reset()
	close(release)

	assert.ErrorIs(t, <-errc, ErrStale)
	_, ok := c.Peek("k")
	assert.False(t, ok)
}

func TestClose_WaitsForBackgroundRefetch(t *testing.T) {
	c := New()
	var finished atomic.Bool
	c.Register("k", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		finished.Store(true)
		return nil, ctx.Err()
	})

	c.Invalidate("k")
	time.Sleep(20 * time.Millisecond)
	c.Close()
	assert.Eventually(t, finished.Load, time.Second, 10*time.Millisecond)

	// Calls after Close are no-ops
	c.Invalidate("k")
	c.Refresh()
	c.Close()
}

func TestRefreshAndKeys(t *testing.T) {
	updated := make(chan string, 4)
	c := New(WithOnUpdate(func(key string) { updated <- key }))
	defer c.Close()

	var a, b atomic.Int32
	c.Register(AttendanceKey("as1"), counter(&a))
	c.Register(QuorumKey("as1"), counter(&b))
	assert.ElementsMatch(t, []string{"attendance:as1", "quorum:as1"}, c.Keys())

	c.Refresh()
	got := []string{<-updated, <-updated}
	assert.ElementsMatch(t, []string{"attendance:as1", "quorum:as1"}, got)

	c.Unregister(QuorumKey("as1"))
	assert.Equal(t, []string{"attendance:as1"}, c.Keys())
}

func TestGetAs(t *testing.T) {
	c := New()
	defer c.Close()
	c.Register("n", func(ctx context.Context) (any, error) { return 42, nil })

	n, err := GetAs[int](context.Background(), c, "n")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = GetAs[string](context.Background(), c, "n")
	assert.Error(t, err)
}
