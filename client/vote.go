// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danielhkuo/quickly-quorum/cache"
	"github.com/danielhkuo/quickly-quorum/models"
)

const (
	DefaultVoteRetries   = 3
	DefaultVoteRetryWait = time.Second
)

// VoteSubmitter casts votes for the units bound to the session's QR token.
type VoteSubmitter struct {
	api     *API
	cache   *cache.Cache
	token   string
	retries int
	wait    time.Duration
	logger  *slog.Logger

	inFlight atomic.Bool
}

type VoteOption func(*VoteSubmitter)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) VoteOption {
	return func(v *VoteSubmitter) { v.retries = n }
}

// WithRetryWait sets the fixed wait between attempts.
func WithRetryWait(d time.Duration) VoteOption {
	return func(v *VoteSubmitter) { v.wait = d }
}

func WithVoteLogger(l *slog.Logger) VoteOption {
	return func(v *VoteSubmitter) { v.logger = l }
}

func NewVoteSubmitter(api *API, c *cache.Cache, opts ...VoteOption) *VoteSubmitter {
	v := &VoteSubmitter{
		api:     api,
		cache:   c,
		token:   strings.TrimSpace(api.Session().QRToken),
		retries: DefaultVoteRetries,
		wait:    DefaultVoteRetryWait,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Status returns the voter binding for the session's token.
func (v *VoteSubmitter) Status(ctx context.Context) (models.VotingStatus, error) {
	if v.token == "" {
		return models.VotingStatus{}, &ValidationError{Field: "qr_token", Message: "session has no QR token"}
	}
	return v.api.VotingStatus(ctx, v.token)
}

func checkBinding(status models.VotingStatus, agendaID string) error {
	switch {
	case len(status.Units) == 0:
		return &ConflictError{StatusCode: http.StatusConflict, Message: "QR code is awaiting check-in"}
	case status.Agenda == nil || status.Agenda.Status != models.StatusOpen:
		return &ConflictError{StatusCode: http.StatusConflict, Message: "no agenda is open for voting"}
	case status.Agenda.ID != agendaID:
		return &ConflictError{StatusCode: http.StatusConflict, Message: fmt.Sprintf("agenda %s is not the open agenda", agendaID)}
	case status.HasVoted:
		return &ConflictError{StatusCode: http.StatusConflict, Message: "unit has already voted on this agenda"}
	}
	return nil
}

// CastVote checks the binding, then submits. Transient failures are
// retried with a fixed wait; business rejections are returned at once.
func (v *VoteSubmitter) CastVote(ctx context.Context, agendaID, optionID string) (models.CastVoteResponse, error) {
	if agendaID == "" || optionID == "" {
		return models.CastVoteResponse{}, &ValidationError{Message: "agenda and option are required"}
	}
	if err := v.acquire(); err != nil {
		return models.CastVoteResponse{}, err
	}
	defer v.inFlight.Store(false)

	status, err := v.Status(ctx)
	if err != nil {
		return models.CastVoteResponse{}, err
	}
	if err := checkBinding(status, agendaID); err != nil {
		return models.CastVoteResponse{}, err
	}

	req := models.CastVoteRequest{QRToken: v.token, AgendaID: agendaID, OptionID: optionID}
	for attempt := 0; ; attempt++ {
		resp, err := v.api.CastVote(ctx, req)
		if err == nil {
			v.logger.Info("vote cast", "agenda_id", agendaID, "votes", resp.VotesCreated)
			if v.cache != nil {
				v.cache.Invalidate(cache.ResultsKey(agendaID), cache.VotingStatusKey(v.token))
			}
			return resp, nil
		}
		if !IsRetryable(err) || attempt >= v.retries {
			return models.CastVoteResponse{}, err
		}

		v.logger.Warn("vote submission failed, retrying",
			"agenda_id", agendaID,
			"attempt", attempt+1,
			"error", err,
		)
		timer := time.NewTimer(v.wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.CastVoteResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (v *VoteSubmitter) acquire() error {
	if !v.inFlight.CompareAndSwap(false, true) {
		return ErrSubmissionInFlight
	}
	return nil
}
