// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/db"
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

const msgAwaitingCheckin = "QR code is awaiting check-in"

type VotingHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	pub broadcast.Publisher
}

func NewVotingHandler(db *sql.DB, cfg cliparse.Config, pub broadcast.Publisher) *VotingHandler {
	return &VotingHandler{db: db, cfg: cfg, pub: pub}
}

// assignedUnits lists the units still bound to an assignment.
func assignedUnits(q queryer, assignmentID string) ([]models.VotingUnit, error) {
	rows, err := q.Query(`
		SELECT u.id, u.unit_number, u.owner_name
		FROM assignment_unit au
		JOIN unit u ON u.id = au.unit_id
		WHERE au.assignment_id = $1 AND au.released_at IS NULL
		ORDER BY u.unit_number
	`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []models.VotingUnit{}
	for rows.Next() {
		var u models.VotingUnit
		if err := rows.Scan(&u.ID, &u.UnitNumber, &u.OwnerName); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

type castVote struct {
	id           string
	optionID     string
	assignmentID string
}

// activeVotes returns the valid votes on an agenda keyed by unit id.
func activeVotes(q queryer, agendaID string) (map[string]castVote, error) {
	rows, err := q.Query(`
		SELECT id, unit_id, option_id, assignment_id FROM vote
		WHERE agenda_id = $1 AND invalidated_at IS NULL
	`, agendaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := make(map[string]castVote)
	for rows.Next() {
		var v castVote
		var unitID string
		if err := rows.Scan(&v.id, &unitID, &v.optionID, &v.assignmentID); err != nil {
			return nil, err
		}
		votes[unitID] = v
	}
	return votes, rows.Err()
}

// votedUnit returns the number of the first unit in units that already
// has an active vote on the agenda, or "".
func votedUnit(q queryer, agendaID string, units []models.VotingUnit) (string, error) {
	votes, err := activeVotes(q, agendaID)
	if err != nil {
		return "", err
	}
	return firstVoted(votes, units), nil
}

func firstVoted(votes map[string]castVote, units []models.VotingUnit) string {
	for _, u := range units {
		if _, ok := votes[u.ID]; ok {
			return u.UnitNumber
		}
	}
	return ""
}

// repeatedVote reports whether every unit already holds a vote for
// optionID cast through assignmentID, and returns those vote ids.
func repeatedVote(votes map[string]castVote, units []models.VotingUnit, optionID, assignmentID string) ([]string, bool) {
	ids := make([]string, 0, len(units))
	for _, u := range units {
		v, ok := votes[u.ID]
		if !ok || v.optionID != optionID || v.assignmentID != assignmentID {
			return nil, false
		}
		ids = append(ids, v.id)
	}
	return ids, len(ids) > 0
}

func activeVoteCount(q queryer, agendaID string) (int, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM vote WHERE agenda_id = $1 AND invalidated_at IS NULL
	`, agendaID).Scan(&n)
	return n, err
}

func (h *VotingHandler) publishVotes(assemblyID, agendaID string) {
	n, err := activeVoteCount(h.db, agendaID)
	if err != nil {
		slog.Error("failed to count votes for broadcast", "agenda_id", agendaID, "error", err)
		return
	}
	publish(h.pub, assemblyID, events.VoteUpdate, events.VotePayload{AgendaID: agendaID, VotesCount: n})
}

// Status handles GET /voting/status/{token}
// It tells a voter device which assembly, agenda and units its QR code
// currently stands for.
func (h *VotingHandler) Status(w http.ResponseWriter, r *http.Request) {
	token, err := auth.NormalizeQRToken(r.PathValue("token"))
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid QR token")
		return
	}

	qrID, _, err := resolveQRCode(h.db, token, 0)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "QR code not found")
		return
	}
	if err != nil {
		slog.Error("failed to query QR code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var assignmentID, assemblyID string
	var isProxy bool
	err = h.db.QueryRow(`
		SELECT id, assembly_id, is_proxy
		FROM assignment
		WHERE qr_code_id = $1 AND undone_at IS NULL
		ORDER BY assigned_at DESC
		LIMIT 1
	`, qrID).Scan(&assignmentID, &assemblyID, &isProxy)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, msgAwaitingCheckin)
		return
	}
	if err != nil {
		slog.Error("failed to query assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	status := models.VotingStatus{IsProxy: isProxy}
	status.Assembly, err = loadAssembly(h.db, assemblyID)
	if err != nil {
		slog.Error("failed to query assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	status.Units, err = assignedUnits(h.db, assignmentID)
	if err != nil {
		slog.Error("failed to query assigned units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	status.Agenda, err = currentOpenAgenda(h.db, assemblyID)
	if err != nil {
		slog.Error("failed to query open agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if status.Agenda != nil {
		number, err := votedUnit(h.db, status.Agenda.ID, status.Units)
		if err != nil {
			slog.Error("failed to query votes", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		status.HasVoted = number != ""
	}

	deviceID, err := GetOrCreateDevice(h.db, r)
	if err != nil {
		slog.Warn("failed to get/create device", "error", err)
	} else if deviceID != "" {
		if err := LinkDeviceToAssembly(h.db, deviceID, assemblyID, models.RoleVoter, &token); err != nil {
			slog.Warn("failed to link device to assembly", "error", err)
		}
	}

	middleware.JSONResponse(w, http.StatusOK, status)
}

// CastVote handles POST /voting/vote
// One vote row is written for every unit bound to the QR code.
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	token, err := auth.NormalizeQRToken(req.QRToken)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid QR token")
		return
	}
	if req.AgendaID == "" || req.OptionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "agenda_id and option_id are required")
		return
	}

	// Resolved before the transaction: SQLite has a single connection.
	deviceID, err := GetOrCreateDevice(h.db, r)
	if err != nil {
		slog.Warn("failed to get/create device", "error", err)
		deviceID = ""
	}
	var device *string
	if deviceID != "" {
		device = &deviceID
	}
	ipHash := auth.HashIP(middleware.GetClientIP(r), h.cfg.OperatorKeySalt)

	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	qrID, _, err := resolveQRCode(tx, token, 0)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "QR code not found")
		return
	}
	if err != nil {
		slog.Error("failed to query QR code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	agenda, err := loadAgenda(tx, req.AgendaID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Agenda not found")
		return
	}
	if err != nil {
		slog.Error("failed to query agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var assignmentID string
	err = tx.QueryRow(`
		SELECT id FROM assignment
		WHERE qr_code_id = $1 AND assembly_id = $2 AND undone_at IS NULL
	`, qrID, agenda.AssemblyID).Scan(&assignmentID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, msgAwaitingCheckin)
		return
	}
	if err != nil {
		slog.Error("failed to query assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if agenda.Status != models.StatusOpen {
		middleware.ErrorResponse(w, http.StatusConflict, fmt.Sprintf("Agenda is %s, not open for voting", agenda.Status))
		return
	}

	optionFound := false
	for _, o := range agenda.Options {
		if o.ID == req.OptionID {
			optionFound = true
			break
		}
	}
	if !optionFound {
		middleware.ErrorResponse(w, http.StatusNotFound, "Option not found")
		return
	}

	units, err := assignedUnits(tx, assignmentID)
	if err != nil {
		slog.Error("failed to query assigned units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if len(units) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, msgAwaitingCheckin)
		return
	}

	votes, err := activeVotes(tx, agenda.ID)
	if err != nil {
		slog.Error("failed to query votes", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	// A resubmission of a committed vote answers with the stored rows.
	if ids, ok := repeatedVote(votes, units, req.OptionID, assignmentID); ok {
		slog.Info("vote resubmitted", "agenda_id", agenda.ID, "assignment_id", assignmentID, "votes", len(ids))
		middleware.JSONResponse(w, http.StatusOK, models.CastVoteResponse{
			AgendaID:     agenda.ID,
			OptionID:     req.OptionID,
			VotesCreated: len(ids),
			VoteIDs:      ids,
		})
		return
	}
	if number := firstVoted(votes, units); number != "" {
		middleware.ErrorResponse(w, http.StatusConflict, fmt.Sprintf("unit %s has already voted on this agenda", number))
		return
	}

	now := time.Now().UTC()
	voteIDs := make([]string, 0, len(units))
	for _, u := range units {
		voteID, err := auth.GenerateID(16)
		if err != nil {
			slog.Error("failed to generate vote ID", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to cast vote")
			return
		}
		_, err = tx.Exec(`
			INSERT INTO vote (id, agenda_id, unit_id, option_id, assignment_id, device_id, ip_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, voteID, agenda.ID, u.ID, req.OptionID, assignmentID, device, ipHash, now)
		if err != nil {
			if db.IsUniqueViolation(err) {
				middleware.ErrorResponse(w, http.StatusConflict, "unit has already voted on this agenda")
				return
			}
			slog.Error("failed to insert vote", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to cast vote")
			return
		}
		voteIDs = append(voteIDs, voteID)
	}

	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "unit has already voted on this agenda")
			return
		}
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to cast vote")
		return
	}

	slog.Info("vote cast",
		"assembly_id", agenda.AssemblyID,
		"agenda_id", agenda.ID,
		"assignment_id", assignmentID,
		"votes", len(voteIDs),
	)
	h.publishVotes(agenda.AssemblyID, agenda.ID)

	middleware.JSONResponse(w, http.StatusCreated, models.CastVoteResponse{
		AgendaID:     agenda.ID,
		OptionID:     req.OptionID,
		VotesCreated: len(voteIDs),
		VoteIDs:      voteIDs,
	})
}

// InvalidateVote handles POST /voting/votes/{id}/invalidate
// The row is kept for audit; the unit may vote again afterwards.
func (h *VotingHandler) InvalidateVote(w http.ResponseWriter, r *http.Request) {
	voteID := r.PathValue("id")

	var vote models.Vote
	var assemblyID string
	var invalidatedAt sql.NullTime
	err := h.db.QueryRow(`
		SELECT v.id, v.agenda_id, v.unit_id, v.option_id, v.created_at, v.invalidated_at, a.assembly_id
		FROM vote v
		JOIN agenda a ON a.id = v.agenda_id
		WHERE v.id = $1
	`, voteID).Scan(&vote.ID, &vote.AgendaID, &vote.UnitID, &vote.OptionID, &vote.CreatedAt, &invalidatedAt, &assemblyID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Vote not found")
		return
	}
	if err != nil {
		slog.Error("failed to query vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	var req models.InvalidateVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "reason is required")
		return
	}

	if invalidatedAt.Valid {
		middleware.ErrorResponse(w, http.StatusConflict, "Vote already invalidated")
		return
	}

	now := time.Now().UTC()
	res, err := h.db.Exec(`
		UPDATE vote SET invalidated_at = $1, invalidated_reason = $2
		WHERE id = $3 AND invalidated_at IS NULL
	`, now, req.Reason, voteID)
	if err != nil {
		slog.Error("failed to invalidate vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to invalidate vote")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Vote already invalidated")
		return
	}

	vote.InvalidatedAt = &now
	vote.InvalidatedReason = req.Reason

	slog.Info("vote invalidated", "assembly_id", assemblyID, "vote_id", voteID, "reason", req.Reason)
	h.publishVotes(assemblyID, vote.AgendaID)

	middleware.JSONResponse(w, http.StatusOK, vote)
}
