// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

type AssemblyHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewAssemblyHandler(db *sql.DB, cfg cliparse.Config) *AssemblyHandler {
	return &AssemblyHandler{db: db, cfg: cfg}
}

// requireOperator writes 401 and returns false unless the request carries
// the operator key of assemblyID.
func requireOperator(w http.ResponseWriter, r *http.Request, assemblyID, salt string) bool {
	key := r.Header.Get(middleware.OperatorKeyHeader)
	if err := auth.ValidateOperatorKey(assemblyID, key, salt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid operator key")
		return false
	}
	return true
}

func loadAssembly(q queryer, assemblyID string) (models.Assembly, error) {
	var a models.Assembly
	var location sql.NullString
	var date sql.NullTime
	err := q.QueryRow(`
		SELECT id, title, location, assembly_date, status, created_at
		FROM assembly
		WHERE id = $1
	`, assemblyID).Scan(&a.ID, &a.Title, &location, &date, &a.Status, &a.CreatedAt)
	if err != nil {
		return models.Assembly{}, err
	}
	a.Location = location.String
	a.AssemblyDate = date.Time
	return a, nil
}

// CreateAssembly handles POST /assemblies
func (h *AssemblyHandler) CreateAssembly(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssemblyRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	assemblyID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate assembly ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create assembly")
		return
	}

	var date *time.Time
	if !req.AssemblyDate.IsZero() {
		d := req.AssemblyDate.UTC()
		date = &d
	}

	_, err = h.db.Exec(`
		INSERT INTO assembly (id, title, location, assembly_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, assemblyID, req.Title, req.Location, date, models.AssemblyDraft, time.Now().UTC())
	if err != nil {
		slog.Error("failed to insert assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create assembly")
		return
	}

	operatorKey := auth.GenerateOperatorKey(assemblyID, h.cfg.OperatorKeySalt)

	deviceID, err := GetOrCreateDevice(h.db, r)
	if err != nil {
		slog.Warn("failed to get/create device", "error", err)
	} else if deviceID != "" {
		if err := LinkDeviceToAssembly(h.db, deviceID, assemblyID, models.RoleOperator, nil); err != nil {
			slog.Warn("failed to link device to assembly", "error", err)
		}
	}

	slog.Info("assembly created", "assembly_id", assemblyID, "title", req.Title)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateAssemblyResponse{
		AssemblyID:  assemblyID,
		OperatorKey: operatorKey,
	})
}

// GetAssembly handles GET /assemblies/{id}
func (h *AssemblyHandler) GetAssembly(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")

	a, err := loadAssembly(h.db, assemblyID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Assembly not found")
		return
	}
	if err != nil {
		slog.Error("failed to query assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, a)
}

func validateUnitInputs(units []models.UnitInput) error {
	if len(units) == 0 {
		return fmt.Errorf("units cannot be empty")
	}
	seen := make(map[string]bool, len(units))
	for i, u := range units {
		number := strings.TrimSpace(u.UnitNumber)
		if number == "" {
			return fmt.Errorf("units[%d]: unit_number is required", i)
		}
		if strings.TrimSpace(u.OwnerName) == "" {
			return fmt.Errorf("unit %s: owner_name is required", number)
		}
		if math.IsNaN(u.IdealFraction) || u.IdealFraction <= 0 || u.IdealFraction > 100 {
			return fmt.Errorf("unit %s: ideal_fraction must be greater than 0 and at most 100", number)
		}
		if seen[number] {
			return fmt.Errorf("unit %s appears more than once", number)
		}
		seen[number] = true
	}
	return nil
}

// ImportUnits handles POST /assemblies/{id}/units
// Units are a snapshot: once imported they cannot be replaced.
func (h *AssemblyHandler) ImportUnits(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	var req models.ImportUnitsRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validateUnitInputs(req.Units); err != nil {
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

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM unit WHERE assembly_id = $1`, assemblyID).Scan(&existing); err != nil {
		slog.Error("failed to count units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if existing > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Units were already imported for this assembly")
		return
	}

	now := time.Now().UTC()
	var total float64
	for _, u := range req.Units {
		unitID, err := auth.GenerateID(12)
		if err != nil {
			slog.Error("failed to generate unit ID", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to import units")
			return
		}
		_, err = tx.Exec(`
			INSERT INTO unit (id, assembly_id, unit_number, owner_name, cpf_cnpj, ideal_fraction, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, unitID, assemblyID, strings.TrimSpace(u.UnitNumber), strings.TrimSpace(u.OwnerName),
			strings.TrimSpace(u.CPFCNPJ), u.IdealFraction, now)
		if err != nil {
			slog.Error("failed to insert unit", "error", err, "unit_number", u.UnitNumber)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to import units")
			return
		}
		total += u.IdealFraction
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to import units")
		return
	}

	if math.Abs(total-100) > 0.01 {
		slog.Warn("imported fractions do not sum to 100", "assembly_id", assemblyID, "total_fraction", total)
	}
	slog.Info("units imported", "assembly_id", assemblyID, "count", len(req.Units))

	middleware.JSONResponse(w, http.StatusCreated, models.ImportUnitsResponse{
		Imported:      len(req.Units),
		TotalFraction: total,
	})
}

func listUnits(q queryer, assemblyID string) ([]models.Unit, error) {
	rows, err := q.Query(`
		SELECT id, assembly_id, unit_number, owner_name, cpf_cnpj, ideal_fraction
		FROM unit
		WHERE assembly_id = $1
		ORDER BY unit_number
	`, assemblyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []models.Unit{}
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.AssemblyID, &u.UnitNumber, &u.OwnerName, &u.CPFCNPJ, &u.IdealFraction); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ListUnits handles GET /assemblies/{id}/units
func (h *AssemblyHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	units, err := listUnits(h.db, assemblyID)
	if err != nil {
		slog.Error("failed to query units", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.UnitListResponse{Items: units})
}
