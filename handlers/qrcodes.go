// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

// MaxQRCodesPerRequest bounds a single batch.
const MaxQRCodesPerRequest = 500

type QRCodeHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewQRCodeHandler(db *sql.DB, cfg cliparse.Config) *QRCodeHandler {
	return &QRCodeHandler{db: db, cfg: cfg}
}

// VotingURL is the address encoded in a printed QR code.
func VotingURL(publicURL, token string) string {
	return strings.TrimRight(publicURL, "/") + "/vote/" + token
}

// CreateQRCodes handles POST /qr-codes
// Visual numbers continue from the highest one issued so far.
func (h *QRCodeHandler) CreateQRCodes(w http.ResponseWriter, r *http.Request) {
	var req models.CreateQRCodesRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Count <= 0 || req.Count > MaxQRCodesPerRequest {
		middleware.ErrorResponse(w, http.StatusBadRequest, "count must be between 1 and 500")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(visual_number), 0) FROM qr_code`).Scan(&last); err != nil {
		slog.Error("failed to query visual numbers", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	now := time.Now().UTC()
	created := make([]models.QRCode, 0, req.Count)
	for i := 1; i <= req.Count; i++ {
		id, err := auth.GenerateID(12)
		if err != nil {
			slog.Error("failed to generate QR code ID", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create QR codes")
			return
		}
		qr := models.QRCode{
			ID:           id,
			Token:        auth.GenerateQRToken(),
			VisualNumber: last + i,
			Status:       models.QRActive,
			CreatedAt:    now,
		}
		_, err = tx.Exec(`
			INSERT INTO qr_code (id, token, visual_number, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, qr.ID, qr.Token, qr.VisualNumber, qr.Status, qr.CreatedAt)
		if err != nil {
			slog.Error("failed to insert QR code", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create QR codes")
			return
		}
		qr.VotingURL = VotingURL(h.cfg.PublicURL, qr.Token)
		created = append(created, qr)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create QR codes")
		return
	}

	slog.Info("QR codes created", "count", len(created), "first", last+1)

	middleware.JSONResponse(w, http.StatusCreated, models.QRCodeListResponse{Items: created})
}

// ListQRCodes handles GET /qr-codes?assembly_id=...
// Tokens are secrets, so listing needs an operator key.
func (h *QRCodeHandler) ListQRCodes(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.URL.Query().Get("assembly_id")
	if assemblyID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "assembly_id is required")
		return
	}
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.QRActive
	}
	if status != models.QRActive && status != models.QRInactive {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	rows, err := h.db.Query(`
		SELECT id, token, visual_number, status, created_at
		FROM qr_code
		WHERE status = $1
		ORDER BY visual_number
	`, status)
	if err != nil {
		slog.Error("failed to query QR codes", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	items := []models.QRCode{}
	for rows.Next() {
		var qr models.QRCode
		if err := rows.Scan(&qr.ID, &qr.Token, &qr.VisualNumber, &qr.Status, &qr.CreatedAt); err != nil {
			slog.Error("failed to scan QR code", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		qr.VotingURL = VotingURL(h.cfg.PublicURL, qr.Token)
		items = append(items, qr)
	}

	middleware.JSONResponse(w, http.StatusOK, models.QRCodeListResponse{Items: items})
}

// resolveQRCode finds an active QR code by token or visual number.
func resolveQRCode(q queryer, token string, visualNumber int) (id string, number int, err error) {
	if token != "" {
		err = q.QueryRow(`
			SELECT id, visual_number FROM qr_code WHERE token = $1 AND status = $2
		`, token, models.QRActive).Scan(&id, &number)
	} else {
		err = q.QueryRow(`
			SELECT id, visual_number FROM qr_code WHERE visual_number = $1 AND status = $2
		`, visualNumber, models.QRActive).Scan(&id, &number)
	}
	return id, number, err
}
