// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/quickly-quorum/cache"
	"github.com/danielhkuo/quickly-quorum/dispatch"
	"github.com/danielhkuo/quickly-quorum/models"
	"github.com/danielhkuo/quickly-quorum/quorum"
	"github.com/danielhkuo/quickly-quorum/stream"
)

// DefaultPollInterval is how often a view refetches while streaming.
const DefaultPollInterval = 5 * time.Second

// View is one open assembly screen: a stream, its dispatcher, a cache
// generation and a polling fallback. Views never share state.
type View struct {
	api        *API
	assemblyID string
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	stream     *stream.Client
	logger     *slog.Logger

	pollInterval   time.Duration
	reconnectDelay time.Duration
	transport      stream.Transport
	cacheTTL       time.Duration
	onUpdate       func(key string)
	onState        func(stream.State)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type ViewOption func(*View)

func WithPollInterval(d time.Duration) ViewOption {
	return func(v *View) { v.pollInterval = d }
}

func WithReconnectDelay(d time.Duration) ViewOption {
	return func(v *View) { v.reconnectDelay = d }
}

// WithTransport replaces the default SSE transport.
func WithTransport(t stream.Transport) ViewOption {
	return func(v *View) { v.transport = t }
}

func WithCacheTTL(d time.Duration) ViewOption {
	return func(v *View) { v.cacheTTL = d }
}

// WithOnUpdate is called with each cache key after a refetch lands.
func WithOnUpdate(fn func(key string)) ViewOption {
	return func(v *View) { v.onUpdate = fn }
}

func WithOnStreamState(fn func(stream.State)) ViewOption {
	return func(v *View) { v.onState = fn }
}

func WithViewLogger(l *slog.Logger) ViewOption {
	return func(v *View) { v.logger = l }
}

func NewView(api *API, assemblyID string, opts ...ViewOption) *View {
	v := &View{
		api:            api,
		assemblyID:     assemblyID,
		logger:         slog.Default(),
		pollInterval:   DefaultPollInterval,
		reconnectDelay: stream.DefaultReconnectDelay,
		cacheTTL:       cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.transport == nil {
		s := api.Session()
		v.transport = &stream.SSETransport{BaseURL: s.base(), Header: s.Header()}
	}

	cacheOpts := []cache.Option{cache.WithTTL(v.cacheTTL), cache.WithLogger(v.logger)}
	if v.onUpdate != nil {
		cacheOpts = append(cacheOpts, cache.WithOnUpdate(v.onUpdate))
	}
	v.cache = cache.New(cacheOpts...)
	v.registerFetchers()

	v.dispatcher = dispatch.New(assemblyID, v.cache, v.logger)
	streamOpts := []stream.Option{
		stream.WithHandler(v.dispatcher.Handle),
		stream.WithReconnectDelay(v.reconnectDelay),
		stream.WithLogger(v.logger),
	}
	if v.onState != nil {
		streamOpts = append(streamOpts, stream.WithStateHandler(v.onState))
	}
	v.stream = stream.New(v.transport, assemblyID, streamOpts...)
	return v
}

func (v *View) registerFetchers() {
	id := v.assemblyID
	v.cache.Register(cache.AttendanceKey(id), func(ctx context.Context) (any, error) {
		return v.api.Attendance(ctx, id)
	})
	v.cache.Register(cache.QuorumKey(id), func(ctx context.Context) (any, error) {
		return v.api.Quorum(ctx, id)
	})
	v.cache.Register(cache.AgendasKey(id), func(ctx context.Context) (any, error) {
		return v.api.Agendas(ctx, id)
	})
	v.cache.Register(cache.UnitsKey(id), func(ctx context.Context) (any, error) {
		return v.api.Units(ctx, id)
	})
}

// TrackResults keeps the results of an agenda in the cache so vote and
// agenda events refresh them.
func (v *View) TrackResults(agendaID string) {
	v.cache.Register(cache.ResultsKey(agendaID), func(ctx context.Context) (any, error) {
		return v.api.Results(ctx, agendaID)
	})
}

// TrackVotingStatus does the same for a voter binding.
func (v *View) TrackVotingStatus(qrToken string) {
	v.cache.Register(cache.VotingStatusKey(qrToken), func(ctx context.Context) (any, error) {
		return v.api.VotingStatus(ctx, qrToken)
	})
}

// Start opens the stream and the polling loop.
func (v *View) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.done != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})

	v.stream.Start(ctx)
	go v.poll(pollCtx, v.done)
}

func (v *View) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.cache.Refresh()
		}
	}
}

// Close stops the stream and polling and discards any response still in
// flight. A closed view cannot be restarted.
func (v *View) Close() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	v.stream.Stop()
	v.cache.Close()
	v.logger.Info("assembly view closed", "assembly_id", v.assemblyID)
}

func (v *View) AssemblyID() string { return v.assemblyID }

func (v *View) Cache() *cache.Cache { return v.cache }

func (v *View) StreamState() stream.State { return v.stream.State() }

func (v *View) LastEventAt() time.Time { return v.stream.LastEventAt() }

func (v *View) LastHeartbeat() time.Time { return v.dispatcher.LastHeartbeat() }

// CheckinEngine returns an engine that shares this view's cache.
func (v *View) CheckinEngine() *CheckinEngine {
	return NewCheckinEngine(v.api, v.cache, v.assemblyID, v.logger)
}

// VoteSubmitter returns a submitter that shares this view's cache.
func (v *View) VoteSubmitter(opts ...VoteOption) *VoteSubmitter {
	return NewVoteSubmitter(v.api, v.cache, append([]VoteOption{WithVoteLogger(v.logger)}, opts...)...)
}

func (v *View) Attendance(ctx context.Context) ([]models.AttendanceItem, error) {
	return cache.GetAs[[]models.AttendanceItem](ctx, v.cache, cache.AttendanceKey(v.assemblyID))
}

func (v *View) Quorum(ctx context.Context) (models.QuorumSnapshot, error) {
	return cache.GetAs[models.QuorumSnapshot](ctx, v.cache, cache.QuorumKey(v.assemblyID))
}

func (v *View) Agendas(ctx context.Context) ([]models.Agenda, error) {
	return cache.GetAs[[]models.Agenda](ctx, v.cache, cache.AgendasKey(v.assemblyID))
}

func (v *View) Units(ctx context.Context) ([]models.Unit, error) {
	return cache.GetAs[[]models.Unit](ctx, v.cache, cache.UnitsKey(v.assemblyID))
}

func (v *View) Results(ctx context.Context, agendaID string) (models.AgendaResults, error) {
	v.TrackResults(agendaID)
	return cache.GetAs[models.AgendaResults](ctx, v.cache, cache.ResultsKey(agendaID))
}

// LocalQuorum recomputes the quorum from the cached units and attendance.
// QuorumReached always comes from the server snapshot.
func (v *View) LocalQuorum(ctx context.Context) (quorum.Snapshot, error) {
	units, err := v.Units(ctx)
	if err != nil {
		return quorum.Snapshot{}, err
	}
	attendance, err := v.Attendance(ctx)
	if err != nil {
		return quorum.Snapshot{}, err
	}
	server, err := v.Quorum(ctx)
	if err != nil {
		return quorum.Snapshot{}, err
	}

	fractions := make(map[string]float64, len(units))
	for _, u := range units {
		fractions[u.ID] = u.IdealFraction
	}
	active := make([][]string, 0, len(attendance))
	for _, item := range attendance {
		ids := make([]string, 0, len(item.Units))
		for _, u := range item.Units {
			ids = append(ids, u.ID)
		}
		active = append(active, ids)
	}

	local := quorum.Calculate(len(units), fractions, active)
	return local.WithServerVerdict(quorum.Snapshot{QuorumReached: server.QuorumReached}), nil
}
