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
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

type AgendaHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	pub broadcast.Publisher
}

func NewAgendaHandler(db *sql.DB, cfg cliparse.Config, pub broadcast.Publisher) *AgendaHandler {
	return &AgendaHandler{db: db, cfg: cfg, pub: pub}
}

const agendaColumns = `id, assembly_id, title, description, display_order, status, opened_at, closed_at`

func scanAgenda(row interface{ Scan(...any) error }) (models.Agenda, error) {
	var a models.Agenda
	var description sql.NullString
	var openedAt, closedAt sql.NullTime
	err := row.Scan(&a.ID, &a.AssemblyID, &a.Title, &description, &a.DisplayOrder, &a.Status, &openedAt, &closedAt)
	if err != nil {
		return models.Agenda{}, err
	}
	a.Description = description.String
	if openedAt.Valid {
		t := openedAt.Time
		a.OpenedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	a.Options = []models.AgendaOption{}
	return a, nil
}

func agendaOptions(q queryer, agendaID string) ([]models.AgendaOption, error) {
	rows, err := q.Query(`
		SELECT id, agenda_id, option_text, display_order
		FROM agenda_option
		WHERE agenda_id = $1
		ORDER BY display_order, id
	`, agendaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := []models.AgendaOption{}
	for rows.Next() {
		var o models.AgendaOption
		if err := rows.Scan(&o.ID, &o.AgendaID, &o.OptionText, &o.DisplayOrder); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func loadAgenda(q queryer, agendaID string) (models.Agenda, error) {
	a, err := scanAgenda(q.QueryRow(`SELECT `+agendaColumns+` FROM agenda WHERE id = $1`, agendaID))
	if err != nil {
		return models.Agenda{}, err
	}
	a.Options, err = agendaOptions(q, agendaID)
	return a, err
}

// currentOpenAgenda returns the agenda voters should see, or nil. If more
// than one agenda is open the lowest display_order wins, then the
// earliest opened_at.
func currentOpenAgenda(q queryer, assemblyID string) (*models.Agenda, error) {
	a, err := scanAgenda(q.QueryRow(`
		SELECT `+agendaColumns+`
		FROM agenda
		WHERE assembly_id = $1 AND status = $2
		ORDER BY display_order, opened_at, id
		LIMIT 1
	`, assemblyID, models.StatusOpen))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Options, err = agendaOptions(q, a.ID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func listAgendas(q queryer, assemblyID string) ([]models.Agenda, error) {
	rows, err := q.Query(`
		SELECT `+agendaColumns+`
		FROM agenda
		WHERE assembly_id = $1
		ORDER BY display_order, created_at, id
	`, assemblyID)
	if err != nil {
		return nil, err
	}

	agendas := []models.Agenda{}
	for rows.Next() {
		a, err := scanAgenda(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		agendas = append(agendas, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range agendas {
		agendas[i].Options, err = agendaOptions(q, agendas[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return agendas, nil
}

// CreateAgenda handles POST /assemblies/{id}/agendas
func (h *AgendaHandler) CreateAgenda(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")
	if !requireOperator(w, r, assemblyID, h.cfg.OperatorKeySalt) {
		return
	}

	var req models.CreateAgendaRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Options) < 2 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Agenda must have at least 2 options")
		return
	}
	for i, text := range req.Options {
		if strings.TrimSpace(text) == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("options[%d] cannot be empty", i))
			return
		}
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

	agendaID, err := auth.GenerateID(12)
	if err != nil {
		slog.Error("failed to generate agenda ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create agenda")
		return
	}

	agenda := models.Agenda{
		ID:           agendaID,
		AssemblyID:   assemblyID,
		Title:        req.Title,
		Description:  req.Description,
		DisplayOrder: req.DisplayOrder,
		Status:       models.StatusDraft,
		Options:      make([]models.AgendaOption, 0, len(req.Options)),
	}

	_, err = tx.Exec(`
		INSERT INTO agenda (id, assembly_id, title, description, display_order, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, agenda.ID, assemblyID, agenda.Title, agenda.Description, agenda.DisplayOrder, agenda.Status, time.Now().UTC())
	if err != nil {
		slog.Error("failed to insert agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create agenda")
		return
	}

	for i, text := range req.Options {
		optionID, err := auth.GenerateID(12)
		if err != nil {
			slog.Error("failed to generate option ID", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create agenda")
			return
		}
		opt := models.AgendaOption{ID: optionID, AgendaID: agendaID, OptionText: strings.TrimSpace(text), DisplayOrder: i}
		_, err = tx.Exec(`
			INSERT INTO agenda_option (id, agenda_id, option_text, display_order)
			VALUES ($1, $2, $3, $4)
		`, opt.ID, opt.AgendaID, opt.OptionText, opt.DisplayOrder)
		if err != nil {
			slog.Error("failed to insert option", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create agenda")
			return
		}
		agenda.Options = append(agenda.Options, opt)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create agenda")
		return
	}

	slog.Info("agenda created", "assembly_id", assemblyID, "agenda_id", agendaID, "options", len(agenda.Options))
	publish(h.pub, assemblyID, events.AgendaUpdate, events.AgendaPayload{AgendaID: agendaID, Status: agenda.Status})

	middleware.JSONResponse(w, http.StatusCreated, agenda)
}

// ListAgendas handles GET /assemblies/{id}/agendas
func (h *AgendaHandler) ListAgendas(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")

	agendas, err := listAgendas(h.db, assemblyID)
	if err != nil {
		slog.Error("failed to query agendas", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.AgendaListResponse{Items: agendas})
}

// agendaForOperator loads an agenda and checks the operator key of its
// assembly. It writes the error response itself.
func (h *AgendaHandler) agendaForOperator(w http.ResponseWriter, r *http.Request, q queryer) (models.Agenda, bool) {
	agenda, err := loadAgenda(q, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Agenda not found")
		return models.Agenda{}, false
	}
	if err != nil {
		slog.Error("failed to query agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Agenda{}, false
	}
	if !requireOperator(w, r, agenda.AssemblyID, h.cfg.OperatorKeySalt) {
		return models.Agenda{}, false
	}
	return agenda, true
}

// OpenAgenda handles POST /agendas/{id}/open
// Only one agenda per assembly may be open at a time.
func (h *AgendaHandler) OpenAgenda(w http.ResponseWriter, r *http.Request) {
	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	agenda, ok := h.agendaForOperator(w, r, tx)
	if !ok {
		return
	}
	if agenda.Status != models.StatusDraft {
		middleware.ErrorResponse(w, http.StatusConflict, fmt.Sprintf("Agenda is %s, only draft agendas can be opened", agenda.Status))
		return
	}

	current, err := currentOpenAgenda(tx, agenda.AssemblyID)
	if err != nil {
		slog.Error("failed to query open agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if current != nil {
		middleware.ErrorResponse(w, http.StatusConflict, fmt.Sprintf("Agenda %q is already open", current.Title))
		return
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE agenda SET status = $1, opened_at = $2 WHERE id = $3 AND status = $4
	`, models.StatusOpen, now, agenda.ID, models.StatusDraft)
	if err != nil {
		slog.Error("failed to open agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to open agenda")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to open agenda")
		return
	}

	agenda.Status = models.StatusOpen
	agenda.OpenedAt = &now

	slog.Info("agenda opened", "assembly_id", agenda.AssemblyID, "agenda_id", agenda.ID)
	publish(h.pub, agenda.AssemblyID, events.AgendaUpdate, events.AgendaPayload{AgendaID: agenda.ID, Status: agenda.Status})

	middleware.JSONResponse(w, http.StatusOK, agenda)
}

// CloseAgenda handles POST /agendas/{id}/close
func (h *AgendaHandler) CloseAgenda(w http.ResponseWriter, r *http.Request) {
	tx, err := h.db.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	agenda, ok := h.agendaForOperator(w, r, tx)
	if !ok {
		return
	}
	if agenda.Status != models.StatusOpen {
		middleware.ErrorResponse(w, http.StatusConflict, "Agenda is not open")
		return
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE agenda SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4
	`, models.StatusClosed, now, agenda.ID, models.StatusOpen)
	if err != nil {
		slog.Error("failed to close agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close agenda")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close agenda")
		return
	}

	agenda.Status = models.StatusClosed
	agenda.ClosedAt = &now

	slog.Info("agenda closed", "assembly_id", agenda.AssemblyID, "agenda_id", agenda.ID)
	publish(h.pub, agenda.AssemblyID, events.AgendaUpdate, events.AgendaPayload{AgendaID: agenda.ID, Status: agenda.Status})

	middleware.JSONResponse(w, http.StatusOK, agenda)
}
