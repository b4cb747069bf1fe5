// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/middleware"
	"github.com/danielhkuo/quickly-quorum/models"
)

type ResultsHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewResultsHandler(db *sql.DB, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, cfg: cfg}
}

// Quorum handles GET /voting/assemblies/{id}/quorum
func (h *ResultsHandler) Quorum(w http.ResponseWriter, r *http.Request) {
	assemblyID := r.PathValue("id")

	if _, err := loadAssembly(h.db, assemblyID); err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Assembly not found")
		return
	} else if err != nil {
		slog.Error("failed to query assembly", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	snap, err := computeQuorum(h.db, assemblyID, h.cfg.QuorumThreshold)
	if err != nil {
		slog.Error("failed to compute quorum", "assembly_id", assemblyID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, snap)
}

type optionTally struct {
	votes    int
	fraction float64
}

// Results handles GET /voting/agendas/{id}/results
// Percentages are of the fraction that voted, not of the fraction present.
func (h *ResultsHandler) Results(w http.ResponseWriter, r *http.Request) {
	agenda, err := loadAgenda(h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Agenda not found")
		return
	}
	if err != nil {
		slog.Error("failed to query agenda", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	snap, err := computeQuorum(h.db, agenda.AssemblyID, h.cfg.QuorumThreshold)
	if err != nil {
		slog.Error("failed to compute quorum", "assembly_id", agenda.AssemblyID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	rows, err := h.db.Query(`
		SELECT v.option_id, COUNT(*), COALESCE(SUM(u.ideal_fraction), 0)
		FROM vote v
		JOIN unit u ON u.id = v.unit_id
		WHERE v.agenda_id = $1 AND v.invalidated_at IS NULL
		GROUP BY v.option_id
	`, agenda.ID)
	if err != nil {
		slog.Error("failed to query votes", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	tallies := make(map[string]optionTally)
	results := models.AgendaResults{
		AgendaID:             agenda.ID,
		Status:               agenda.Status,
		TotalUnitsPresent:    snap.UnitsPresent,
		TotalFractionPresent: snap.FractionPresent,
		Results:              make([]models.OptionResult, 0, len(agenda.Options)),
	}
	for rows.Next() {
		var optionID string
		var t optionTally
		if err := rows.Scan(&optionID, &t.votes, &t.fraction); err != nil {
			slog.Error("failed to scan votes", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		tallies[optionID] = t
		results.TotalUnitsVoted += t.votes
		results.TotalFractionVoted += t.fraction
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to read votes", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	for _, o := range agenda.Options {
		t := tallies[o.ID]
		res := models.OptionResult{
			OptionID:    o.ID,
			OptionText:  o.OptionText,
			VotesCount:  t.votes,
			FractionSum: t.fraction,
		}
		if results.TotalFractionVoted > 0 {
			res.Percentage = t.fraction / results.TotalFractionVoted * 100
		}
		results.Results = append(results.Results, res)
	}

	middleware.JSONResponse(w, http.StatusOK, results)
}
