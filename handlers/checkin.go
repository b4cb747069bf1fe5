// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/db"
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
	"github.com/danielhkuo/quickly-quorum/ownership"
	"github.com/danielhkuo/quickly-quorum/quorum"
)

type CheckinHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	pub broadcast.Publisher
}

func NewCheckinHandler(db *sql.DB, cfg cliparse.Config, pub broadcast.Publisher) *CheckinHandler {
	return &CheckinHandler{db: db, cfg: cfg, pub: pub}
}

// computeQuorum aggregates the active check-ins of an assembly.
func computeQuorum(q queryer, assemblyID string, threshold float64) (models.QuorumSnapshot, error) {
	units, err := listUnits(q, assemblyID)
	if err != nil {
		return models.QuorumSnapshot{}, err
	}
	fractions := make(map[string]float64, len(units))
	for _, u := range units {
		fractions[u.ID] = u.IdealFraction
	}

	rows, err := q.Query(`
		SELECT assignment_id, unit_id
		FROM assignment_unit
		WHERE assembly_id = $1 AND released_at IS NULL
		ORDER BY assignment_id
	`, assemblyID)
	if err != nil {
		return models.QuorumSnapshot{}, err
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var assignmentID, unitID string
		if err := rows.Scan(&assignmentID, &unitID); err != nil {
			return models.QuorumSnapshot{}, err
		}
		groups[assignmentID] = append(groups[assignmentID], unitID)
	}
	if err := rows.Err(); err != nil {
		return models.QuorumSnapshot{}, err
	}

	active := make([][]string, 0, len(groups))
	for _, ids := range groups {
		active = append(active, ids)
	}
	return quorum.Calculate(len(units), fractions, active).Evaluate(threshold), nil
}

func (h *CheckinHandler) publishAttendance(assemblyID string) {
	snap, err := computeQuorum(h.db, assemblyID, h.cfg.QuorumThreshold)
	if err != nil {
		slog.Error("failed to compute quorum for broadcast", "assembly_id", assemblyID, "error", err)
		return
	}
	publish(h.pub, assemblyID, events.CheckinUpdate, events.CheckinPayload{
		UnitsPresent:    snap.UnitsPresent,
		FractionPresent: snap.FractionPresent,
	})
}

func validateCheckinRequest(req *models.CheckinRequest) error {
	hasToken := strings.TrimSpace(req.QRToken) != ""
	hasNumber := req.QRVisualNumber != 0
	switch {
	case hasToken && hasNumber:
		return fmt.Errorf("provide either qr_token or qr_visual_number, not both")
	case !hasToken && !hasNumber:
		return fmt.Errorf("qr_token or qr_visual_number is required")
	case hasNumber && req.QRVisualNumber < 0:
		return fmt.Errorf("qr_visual_number must be positive")
	case hasToken:
		token, err := auth.NormalizeQRToken(req.QRToken)
		if err != nil {
			return fmt.Errorf("qr_token is not a valid token")
		}
		req.QRToken = token
	}

	if len(req.UnitIDs) == 0 {
		return fmt.Errorf("unit_ids cannot be empty")
	}
	seen := make(map[string]bool, len(req.UnitIDs))
	for _, id := range req.UnitIDs {
		if id == "" {
			return fmt.Errorf("unit_ids cannot contain empty ids")
		}
		if seen[id] {
			return fmt.Errorf("unit %s is listed more than once", id)
		}
		seen[id] = true
	}
	return nil
}

// Checkin handles POST /checkin/assemblies/{id}/checkin
// The QR code and every unit are bound together or not at all.
func (h *CheckinHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	var req models.CheckinRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validateCheckinRequest(&req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	if _, err := loadAssembly(tx, assemblyID); err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Assembly not found")
		return
	} else if err != nil {
		slog.Error("failed to query assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	qrID, visualNumber, err := resolveQRCode(tx, req.QRToken, req.QRVisualNumber)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "QR code not found")
		return
	}
	if err != nil {
		slog.Error("failed to query QR code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var qrInUse bool
	err = tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM assignment
			WHERE assembly_id = $1 AND qr_code_id = $2 AND undone_at IS NULL
		)
	`, assemblyID, qrID).Scan(&qrInUse)
	if err != nil {
		slog.Error("failed to query assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if qrInUse {
		middleware.ErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("QR code %d is already assigned in this assembly", visualNumber))
		return
	}

	units, err := listUnits(tx, assemblyID)
	if err != nil {
		slog.Error("failed to query units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	byID := make(map[string]models.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	for _, id := range req.UnitIDs {
		if _, ok := byID[id]; !ok {
			middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("unit %s is not part of this assembly", id))
			return
		}
	}

	present, err := presentUnitIDs(tx, assemblyID)
	if err != nil {
		slog.Error("failed to query attendance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	for _, id := range req.UnitIDs {
		if present[id] {
			middleware.ErrorResponse(w, http.StatusConflict,
				fmt.Sprintf("unit %s is already checked in", byID[id].UnitNumber))
			return
		}
	}

	assignmentID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate assignment ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to check in")
		return
	}
	now := time.Now().UTC()

	_, err = tx.Exec(`
		INSERT INTO assignment (id, assembly_id, qr_code_id, is_proxy, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, assignmentID, assemblyID, qrID, req.IsProxy, now)
	if err == nil {
		for _, unitID := range req.UnitIDs {
			_, err = tx.Exec(`
				INSERT INTO assignment_unit (assignment_id, unit_id, assembly_id)
				VALUES ($1, $2, $3)
			`, assignmentID, unitID, assemblyID)
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		if db.IsUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "QR code or unit was checked in concurrently")
			return
		}
		slog.Error("failed to insert assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to check in")
		return
	}

	_, err = tx.Exec(`
		UPDATE assembly SET status = $1 WHERE id = $2 AND status = $3
	`, models.AssemblyInProgress, assemblyID, models.AssemblyDraft)
	if err != nil {
		slog.Error("failed to update assembly status", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to check in")
		return
	}

	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "QR code or unit was checked in concurrently")
			return
		}
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to check in")
		return
	}

	slog.Info("checkin created",
		"assembly_id", assemblyID,
		"assignment_id", assignmentID,
		"qr_visual_number", visualNumber,
		"units", len(req.UnitIDs),
		"is_proxy", req.IsProxy,
	)
	h.publishAttendance(assemblyID)

	middleware.JSONResponse(w, http.StatusCreated, models.Assignment{
		ID:         assignmentID,
		AssemblyID: assemblyID,
		QRCodeID:   qrID,
		UnitIDs:    req.UnitIDs,
		IsProxy:    req.IsProxy,
		AssignedAt: now,
	})
}

func presentUnitIDs(q queryer, assemblyID string) (map[string]bool, error) {
	rows, err := q.Query(`
		SELECT unit_id FROM assignment_unit
		WHERE assembly_id = $1 AND released_at IS NULL
	`, assemblyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		present[id] = true
	}
	return present, rows.Err()
}

// Undo handles DELETE /checkin/assignments/{id}
// Repeating an undo succeeds and keeps the first undone_at.
func (h *CheckinHandler) Undo(w http.ResponseWriter, r *http.Request) {
	assignmentID := r.PathValue("id")

	var assemblyID string
	err := h.db.QueryRow(`SELECT assembly_id FROM assignment WHERE id = $1`, assignmentID).Scan(&assemblyID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Assignment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE assignment SET undone_at = $1 WHERE id = $2 AND undone_at IS NULL
	`, now, assignmentID)
	if err != nil {
		slog.Error("failed to undo assignment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to undo check-in")
		return
	}
	changed, err := res.RowsAffected()
	if err != nil {
		// Unknown count: publish anyway, clients refetch the aggregates.
		slog.Warn("rows affected unavailable on undo", "assignment_id", assignmentID, "error", err)
		changed = -1
	}

	_, err = tx.Exec(`
		UPDATE assignment_unit SET released_at = $1 WHERE assignment_id = $2 AND released_at IS NULL
	`, now, assignmentID)
	if err != nil {
		slog.Error("failed to release units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to undo check-in")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to undo check-in")
		return
	}

	if changed != 0 {
		slog.Info("checkin undone", "assembly_id", assemblyID, "assignment_id", assignmentID)
		h.publishAttendance(assemblyID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Attendance handles GET /checkin/assemblies/{id}/attendance
func (h *CheckinHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	rows, err := h.db.Query(`
		SELECT a.id, a.is_proxy, q.visual_number,
		       u.id, u.assembly_id, u.unit_number, u.owner_name, u.cpf_cnpj, u.ideal_fraction
		FROM assignment a
		JOIN qr_code q ON q.id = a.qr_code_id
		JOIN assignment_unit au ON au.assignment_id = a.id
		JOIN unit u ON u.id = au.unit_id
		WHERE a.assembly_id = $1 AND a.undone_at IS NULL AND au.released_at IS NULL
		ORDER BY a.assigned_at, a.id, u.unit_number
	`, assemblyID)
	if err != nil {
		slog.Error("failed to query attendance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	items := []models.AttendanceItem{}
	index := make(map[string]int)
	for rows.Next() {
		var assignmentID string
		var isProxy bool
		var visualNumber int
		var u models.Unit
		if err := rows.Scan(&assignmentID, &isProxy, &visualNumber,
			&u.ID, &u.AssemblyID, &u.UnitNumber, &u.OwnerName, &u.CPFCNPJ, &u.IdealFraction); err != nil {
			slog.Error("failed to scan attendance", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}

		i, ok := index[assignmentID]
		if !ok {
			i = len(items)
			index[assignmentID] = i
			items = append(items, models.AttendanceItem{
				AssignmentID:   assignmentID,
				QRVisualNumber: visualNumber,
				IsProxy:        isProxy,
				Units:          []models.Unit{},
				OwnerNames:     []string{},
			})
		}
		items[i].Units = append(items[i].Units, u)
		items[i].OwnerNames = append(items[i].OwnerNames, u.OwnerName)
		items[i].TotalFraction += u.IdealFraction
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to read attendance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.AttendanceListResponse{Items: items})
}

// SelectUnitsByOwner handles POST /checkin/assemblies/{id}/select-units-by-owner
// Returns the ids of every unit held by the owner, sorted.
func (h *CheckinHandler) SelectUnitsByOwner(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	var req models.SelectUnitsByOwnerRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.OwnerName) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "owner_name is required")
		return
	}

	units, err := listUnits(h.db, assemblyID)
	if err != nil {
		slog.Error("failed to query units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	ids := ownership.Build(units).Owner(req.OwnerName, strings.TrimSpace(req.CPFCNPJ))
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)

	middleware.JSONResponse(w, http.StatusOK, ids)
}
