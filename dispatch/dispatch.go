// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/quickly-quorum/cache"
	"github.com/danielhkuo/quickly-quorum/events"
)

// Invalidator is the part of the cache the dispatcher needs.
type Invalidator interface {
	Invalidate(keys ...string)
}

// Keys maps an event to the cache keys it makes stale. Payload values
// are only used to address keys, never as data.
func Keys(assemblyID string, ev events.Event) []string {
	switch ev.Name {
	case events.CheckinUpdate:
		return []string{cache.AttendanceKey(assemblyID), cache.QuorumKey(assemblyID)}

	case events.VoteUpdate:
		var p events.VotePayload
		if err := ev.Decode(&p); err != nil || p.AgendaID == "" {
			return nil
		}
		return []string{cache.ResultsKey(p.AgendaID)}

	case events.AgendaUpdate:
		keys := []string{cache.AgendasKey(assemblyID)}
		var p events.AgendaPayload
		if err := ev.Decode(&p); err == nil && p.AgendaID != "" {
			keys = append(keys, cache.ResultsKey(p.AgendaID))
		}
		return keys

	default:
		// heartbeat and unknown events
		return nil
	}
}

// Dispatcher routes stream events of one assembly to cache invalidation.
type Dispatcher struct {
	assemblyID string
	target     Invalidator
	logger     *slog.Logger

	mu            sync.Mutex
	lastHeartbeat time.Time
	lastEvent     time.Time
}

func New(assemblyID string, target Invalidator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{assemblyID: assemblyID, target: target, logger: logger}
}

// Handle is safe to use as a stream handler.
func (d *Dispatcher) Handle(ev events.Event) {
	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	d.mu.Lock()
	d.lastEvent = at
	if ev.Name == events.Heartbeat {
		d.lastHeartbeat = at
	}
	d.mu.Unlock()

	keys := Keys(d.assemblyID, ev)
	if len(keys) == 0 {
		if ev.Name != events.Heartbeat {
			d.logger.Debug("event ignored", "assembly_id", d.assemblyID, "event", ev.Name)
		}
		return
	}
	d.logger.Debug("invalidating", "assembly_id", d.assemblyID, "event", ev.Name, "keys", keys)
	d.target.Invalidate(keys...)
}

// LastHeartbeat is the receive time of the most recent heartbeat.
func (d *Dispatcher) LastHeartbeat() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHeartbeat
}

// LastEvent is the receive time of the most recent event of any kind.
func (d *Dispatcher) LastEvent() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEvent
}
