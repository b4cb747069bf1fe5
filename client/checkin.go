// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/danielhkuo/quickly-quorum/cache"
	"github.com/danielhkuo/quickly-quorum/models"
	"github.com/danielhkuo/quickly-quorum/ownership"
)

// QRIdentifier names a QR code either by token or by printed number.
// Exactly one must be set.
type QRIdentifier struct {
	Token        string
	VisualNumber int
}

func QRToken(token string) QRIdentifier { return QRIdentifier{Token: token} }

func QRNumber(n int) QRIdentifier { return QRIdentifier{VisualNumber: n} }

func (q QRIdentifier) validate() error {
	token := strings.TrimSpace(q.Token)
	switch {
	case token != "" && q.VisualNumber != 0:
		return &ValidationError{Field: "qr", Message: "give either a QR token or a QR number, not both"}
	case token == "" && q.VisualNumber == 0:
		return &ValidationError{Field: "qr", Message: "QR token or QR number is required"}
	case token != "":
		if _, err := uuid.Parse(token); err != nil {
			return &ValidationError{Field: "qr_token", Message: "QR token is not a valid UUID"}
		}
	case q.VisualNumber < 0:
		return &ValidationError{Field: "qr_visual_number", Message: "QR number must be positive"}
	}
	return nil
}

// ParseScanned returns the QR token inside a scanned voting URL
// (".../vote/{token}"), or the trimmed text when it is not a URL.
func ParseScanned(text string) string {
	text = strings.TrimSpace(text)
	i := strings.LastIndex(text, "/vote/")
	if i < 0 {
		return text
	}
	token := text[i+len("/vote/"):]
	if j := strings.IndexAny(token, "/?#"); j >= 0 {
		token = token[:j]
	}
	return token
}

// CheckinEngine submits check-ins and undos for one assembly. One
// submission is outstanding at a time.
type CheckinEngine struct {
	api        *API
	cache      *cache.Cache
	assemblyID string
	logger     *slog.Logger

	mu    sync.RWMutex
	units map[string]models.Unit
	index *ownership.Index

	inFlight atomic.Bool
}

func NewCheckinEngine(api *API, c *cache.Cache, assemblyID string, logger *slog.Logger) *CheckinEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &CheckinEngine{api: api, cache: c, assemblyID: assemblyID, logger: logger}
	e.SetUnits(nil)
	return e
}

// SetUnits replaces the known unit list.
func (e *CheckinEngine) SetUnits(units []models.Unit) {
	m := make(map[string]models.Unit, len(units))
	for _, u := range units {
		m[u.ID] = u
	}
	idx := ownership.Build(units)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.units = m
	e.index = idx
}

// LoadUnits fetches the unit list from the server.
func (e *CheckinEngine) LoadUnits(ctx context.Context) error {
	units, err := e.api.Units(ctx, e.assemblyID)
	if err != nil {
		return err
	}
	e.SetUnits(units)
	return nil
}

// Index returns the owner index over the known units.
func (e *CheckinEngine) Index() *ownership.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Selection starts an empty selection bound to the known units.
func (e *CheckinEngine) Selection() *ownership.Selection {
	return ownership.NewSelection(e.Index())
}

func (e *CheckinEngine) validateUnits(unitIDs []string) error {
	if len(unitIDs) == 0 {
		return &ValidationError{Field: "unit_ids", Message: "select at least one unit"}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]struct{}, len(unitIDs))
	for _, id := range unitIDs {
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "unit_ids", Message: fmt.Sprintf("unit %s selected twice", id)}
		}
		seen[id] = struct{}{}
		if _, ok := e.units[id]; !ok {
			return &ValidationError{Field: "unit_ids", Message: fmt.Sprintf("unit %s is not part of this assembly", id)}
		}
	}
	return nil
}

func (e *CheckinEngine) acquire() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrSubmissionInFlight
	}
	return nil
}

func (e *CheckinEngine) release() { e.inFlight.Store(false) }

func (e *CheckinEngine) invalidate() {
	if e.cache != nil {
		e.cache.Invalidate(cache.AttendanceKey(e.assemblyID), cache.QuorumKey(e.assemblyID))
	}
}

// Assign binds qr to unitIDs. A 409 comes back as *ConflictError with the
// server's message, and nothing is retried.
func (e *CheckinEngine) Assign(ctx context.Context, qr QRIdentifier, unitIDs []string, isProxy bool) (models.Assignment, error) {
	if err := qr.validate(); err != nil {
		return models.Assignment{}, err
	}
	if err := e.validateUnits(unitIDs); err != nil {
		return models.Assignment{}, err
	}
	if err := e.acquire(); err != nil {
		return models.Assignment{}, err
	}
	defer e.release()

	req := models.CheckinRequest{
		QRToken:        strings.ToLower(strings.TrimSpace(qr.Token)),
		QRVisualNumber: qr.VisualNumber,
		UnitIDs:        unitIDs,
		IsProxy:        isProxy,
	}
	a, err := e.api.Checkin(ctx, e.assemblyID, req)
	if err != nil {
		e.logger.Warn("check-in rejected", "assembly_id", e.assemblyID, "error", err)
		return models.Assignment{}, err
	}
	e.logger.Info("check-in recorded", "assembly_id", e.assemblyID, "assignment_id", a.ID, "units", len(a.UnitIDs))
	e.invalidate()
	return a, nil
}

// Undo releases an assignment. Undoing twice is not an error.
func (e *CheckinEngine) Undo(ctx context.Context, assignmentID string) error {
	if strings.TrimSpace(assignmentID) == "" {
		return &ValidationError{Field: "assignment_id", Message: "assignment id is required"}
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if err := e.api.UndoCheckin(ctx, assignmentID); err != nil {
		return err
	}
	e.logger.Info("check-in undone", "assembly_id", e.assemblyID, "assignment_id", assignmentID)
	e.invalidate()
	return nil
}

// SelectOwner asks the server for every unit of an owner and adds them
// to sel.
func (e *CheckinEngine) SelectOwner(ctx context.Context, sel *ownership.Selection, ownerName, taxID string) error {
	if strings.TrimSpace(ownerName) == "" {
		return &ValidationError{Field: "owner_name", Message: "owner name is required"}
	}
	ids, err := e.api.SelectUnitsByOwner(ctx, e.assemblyID, ownerName, taxID)
	if err != nil {
		return err
	}
	sel.Add(ids...)
	return nil
}
