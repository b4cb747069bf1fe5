// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/danielhkuo/quickly-quorum/models"
)

const defaultTimeout = 10 * time.Second

// API is a thin REST client for the assembly server. Every method returns
// a *TransportError, *ConflictError or *ValidationError on failure.
type API struct {
	http    *resty.Client
	session Session
	logger  *slog.Logger
}

type APIOption func(*API)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) APIOption {
	return func(a *API) { a.http = resty.NewWithClient(hc) }
}

func WithAPILogger(l *slog.Logger) APIOption {
	return func(a *API) { a.logger = l }
}

func NewAPI(session Session, opts ...APIOption) *API {
	a := &API{
		http:    resty.New(),
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.http.
		SetBaseURL(session.base()).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	for k := range session.Header() {
		a.http.SetHeader(k, session.Header().Get(k))
	}
	return a
}

func (a *API) Session() Session { return a.session }

func (a *API) do(ctx context.Context, method, path string, params map[string]string, body, result any) error {
	req := a.http.R().
		SetContext(ctx).
		SetError(&models.ErrorResponse{}).
		SetPathParams(params)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	op := method + " " + path
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		a.logger.Warn("request failed", "op", op, "error", err)
		return &TransportError{Op: op, Err: err}
	}

	if resp.IsSuccess() {
		return nil
	}
	msg := ""
	if e, ok := resp.Error().(*models.ErrorResponse); ok && e != nil {
		msg = e.Message
		if msg == "" {
			msg = e.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	a.logger.Debug("request rejected", "op", op, "status", resp.StatusCode(), "message", msg)
	return classifyStatus(op, resp.StatusCode(), msg)
}

func (a *API) Assembly(ctx context.Context, assemblyID string) (models.Assembly, error) {
	var out models.Assembly
	err := a.do(ctx, http.MethodGet, "/assemblies/{id}", map[string]string{"id": assemblyID}, nil, &out)
	return out, err
}

func (a *API) Units(ctx context.Context, assemblyID string) ([]models.Unit, error) {
	var out models.UnitListResponse
	err := a.do(ctx, http.MethodGet, "/assemblies/{id}/units", map[string]string{"id": assemblyID}, nil, &out)
	return out.Items, err
}

func (a *API) Attendance(ctx context.Context, assemblyID string) ([]models.AttendanceItem, error) {
	var out models.AttendanceListResponse
	err := a.do(ctx, http.MethodGet, "/checkin/assemblies/{id}/attendance", map[string]string{"id": assemblyID}, nil, &out)
	return out.Items, err
}

func (a *API) Quorum(ctx context.Context, assemblyID string) (models.QuorumSnapshot, error) {
	var out models.QuorumSnapshot
	err := a.do(ctx, http.MethodGet, "/voting/assemblies/{id}/quorum", map[string]string{"id": assemblyID}, nil, &out)
	return out, err
}

func (a *API) Agendas(ctx context.Context, assemblyID string) ([]models.Agenda, error) {
	var out models.AgendaListResponse
	err := a.do(ctx, http.MethodGet, "/assemblies/{id}/agendas", map[string]string{"id": assemblyID}, nil, &out)
	return out.Items, err
}

func (a *API) Results(ctx context.Context, agendaID string) (models.AgendaResults, error) {
	var out models.AgendaResults
	err := a.do(ctx, http.MethodGet, "/voting/agendas/{id}/results", map[string]string{"id": agendaID}, nil, &out)
	return out, err
}

func (a *API) VotingStatus(ctx context.Context, qrToken string) (models.VotingStatus, error) {
	var out models.VotingStatus
	err := a.do(ctx, http.MethodGet, "/voting/status/{token}", map[string]string{"token": qrToken}, nil, &out)
	return out, err
}

func (a *API) Checkin(ctx context.Context, assemblyID string, req models.CheckinRequest) (models.Assignment, error) {
	var out models.Assignment
	err := a.do(ctx, http.MethodPost, "/checkin/assemblies/{id}/checkin", map[string]string{"id": assemblyID}, req, &out)
	return out, err
}

func (a *API) UndoCheckin(ctx context.Context, assignmentID string) error {
	return a.do(ctx, http.MethodDelete, "/checkin/assignments/{id}", map[string]string{"id": assignmentID}, nil, nil)
}

func (a *API) SelectUnitsByOwner(ctx context.Context, assemblyID, ownerName, taxID string) ([]string, error) {
	var out []string
	req := models.SelectUnitsByOwnerRequest{OwnerName: ownerName, CPFCNPJ: taxID}
	err := a.do(ctx, http.MethodPost, "/checkin/assemblies/{id}/select-units-by-owner", map[string]string{"id": assemblyID}, req, &out)
	return out, err
}

func (a *API) CastVote(ctx context.Context, req models.CastVoteRequest) (models.CastVoteResponse, error) {
	var out models.CastVoteResponse
	err := a.do(ctx, http.MethodPost, "/voting/vote", nil, req, &out)
	return out, err
}

func (a *API) OpenAgenda(ctx context.Context, agendaID string) (models.Agenda, error) {
	var out models.Agenda
	err := a.do(ctx, http.MethodPost, "/agendas/{id}/open", map[string]string{"id": agendaID}, nil, &out)
	return out, err
}

func (a *API) CloseAgenda(ctx context.Context, agendaID string) (models.Agenda, error) {
	var out models.Agenda
	err := a.do(ctx, http.MethodPost, "/agendas/{id}/close", map[string]string{"id": agendaID}, nil, &out)
	return out, err
}

func (a *API) InvalidateVote(ctx context.Context, voteID, reason string) error {
	req := models.InvalidateVoteRequest{Reason: reason}
	return a.do(ctx, http.MethodPost, "/voting/votes/{id}/invalidate", map[string]string{"id": voteID}, req, nil)
}
