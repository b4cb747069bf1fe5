// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

type DeviceHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewDeviceHandler(db *sql.DB, cfg cliparse.Config) *DeviceHandler {
	return &DeviceHandler{db: db, cfg: cfg}
}

// Register handles POST /devices/register
// Registers a device and returns its device_id (or finds existing)
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	deviceUUID := r.Header.Get(middleware.DeviceUUIDHeader)
	if deviceUUID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "X-Device-UUID header required")
		return
	}

	var req models.RegisterDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !isValidPlatform(req.Platform) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "platform must be one of: ios, macos, android, web")
		return
	}

	var existingID string
	err := h.db.QueryRow(`
		SELECT id FROM device WHERE device_uuid = $1
	`, deviceUUID).Scan(&existingID)

	if err == nil {
		_, err = h.db.Exec(`
			UPDATE device SET platform = $1, last_seen_at = $2 WHERE id = $3
		`, req.Platform, time.Now().UTC(), existingID)
		if err != nil {
			slog.Error("failed to update device last_seen_at", "error", err)
		}

		slog.Info("device registered (existing)", "device_id", existingID)
		middleware.JSONResponse(w, http.StatusOK, models.RegisterDeviceResponse{
			DeviceID: existingID,
			IsNew:    false,
		})
		return
	}

	if err != sql.ErrNoRows {
		slog.Error("failed to query device", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	deviceID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate device ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	now := time.Now().UTC()
	_, err = h.db.Exec(`
		INSERT INTO device (id, device_uuid, platform, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, deviceID, deviceUUID, req.Platform, now, now)

	if err != nil {
		slog.Error("failed to insert device", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	slog.Info("device registered (new)", "device_id", deviceID, "platform", req.Platform)

	middleware.JSONResponse(w, http.StatusCreated, models.RegisterDeviceResponse{
		DeviceID: deviceID,
		IsNew:    true,
	})
}

// deviceID looks up the registered device of the request and touches
// last_seen_at. It writes the error response itself.
func (h *DeviceHandler) deviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceUUID := r.Header.Get(middleware.DeviceUUIDHeader)
	if deviceUUID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "X-Device-UUID header required")
		return "", false
	}

	var id string
	err := h.db.QueryRow(`SELECT id FROM device WHERE device_uuid = $1`, deviceUUID).Scan(&id)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Device not registered")
		return "", false
	}
	if err != nil {
		slog.Error("failed to query device", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return "", false
	}

	if _, err := h.db.Exec(`UPDATE device SET last_seen_at = $1 WHERE id = $2`, time.Now().UTC(), id); err != nil {
		slog.Error("failed to update device last_seen_at", "error", err)
	}
	return id, true
}

// GetMe handles GET /devices/me
func (h *DeviceHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}

	var device models.DeviceInfo
	err := h.db.QueryRow(`
		SELECT id, platform, created_at, last_seen_at
		FROM device
		WHERE id = $1
	`, id).Scan(&device.ID, &device.Platform, &device.CreatedAt, &device.LastSeenAt)
	if err != nil {
		slog.Error("failed to query device", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, device)
}

// GetMyAssemblies handles GET /devices/my-assemblies
// Returns assemblies this device operated or voted in.
func (h *DeviceHandler) GetMyAssemblies(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}

	rows, err := h.db.Query(`
		SELECT
			a.id,
			a.title,
			a.status,
			da.role,
			da.linked_at,
			(SELECT COUNT(*) FROM vote v WHERE v.device_id = da.device_id
				AND v.agenda_id IN (SELECT ag.id FROM agenda ag WHERE ag.assembly_id = a.id)) AS votes_cast
		FROM device_assembly da
		JOIN assembly a ON da.assembly_id = a.id
		WHERE da.device_id = $1
		ORDER BY da.linked_at DESC
	`, id)
	if err != nil {
		slog.Error("failed to query device assemblies", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	assemblies := []models.DeviceAssemblySummary{}
	for rows.Next() {
		var s models.DeviceAssemblySummary
		if err := rows.Scan(&s.AssemblyID, &s.Title, &s.Status, &s.Role, &s.LinkedAt, &s.VotesCast); err != nil {
			slog.Error("failed to scan assembly", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		assemblies = append(assemblies, s)
	}

	middleware.JSONResponse(w, http.StatusOK, models.GetMyAssembliesResponse{
		Assemblies: assemblies,
	})
}

// GetOrCreateDevice looks up or creates a device record from the X-Device-UUID header.
// Returns empty string if no header.
func GetOrCreateDevice(db *sql.DB, r *http.Request) (string, error) {
	deviceUUID := r.Header.Get(middleware.DeviceUUIDHeader)
	if deviceUUID == "" {
		return "", nil
	}

	var deviceID string
	err := db.QueryRow(`
		SELECT id FROM device WHERE device_uuid = $1
	`, deviceUUID).Scan(&deviceID)

	if err == nil {
		_, _ = db.Exec(`UPDATE device SET last_seen_at = $1 WHERE id = $2`, time.Now().UTC(), deviceID)
		return deviceID, nil
	}

	if err != sql.ErrNoRows {
		return "", err
	}

	// Platform is corrected by /devices/register.
	deviceID, err = auth.GenerateID(16)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	_, err = db.Exec(`
		INSERT INTO device (id, device_uuid, platform, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, deviceID, deviceUUID, models.PlatformWeb, now, now)

	if err != nil {
		return "", err
	}

	return deviceID, nil
}

// LinkDeviceToAssembly records that a device took part in an assembly.
// An operator link is never downgraded to voter.
func LinkDeviceToAssembly(db *sql.DB, deviceID, assemblyID, role string, qrToken *string) error {
	if deviceID == "" {
		return nil
	}

	var tok sql.NullString
	if qrToken != nil {
		tok = sql.NullString{String: *qrToken, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO device_assembly (device_id, assembly_id, qr_token, role, linked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id, assembly_id) DO UPDATE SET
			role = CASE WHEN device_assembly.role = 'operator' THEN 'operator' ELSE EXCLUDED.role END,
			qr_token = COALESCE(device_assembly.qr_token, EXCLUDED.qr_token)
	`, deviceID, assemblyID, tok, role, time.Now().UTC())

	return err
}

func isValidPlatform(platform string) bool {
	switch platform {
	case models.PlatformIOS, models.PlatformMacOS, models.PlatformAndroid, models.PlatformWeb:
		return true
	}
	return false
}
