// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/handlers"
	"github.com/danielhkuo/quickly-quorum/middleware"
)

func NewRouter(db *sql.DB, cfg cliparse.Config, hub broadcast.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	assemblyHandler := handlers.NewAssemblyHandler(db, cfg)
	qrHandler := handlers.NewQRCodeHandler(db, cfg)
	checkinHandler := handlers.NewCheckinHandler(db, cfg, hub)
	agendaHandler := handlers.NewAgendaHandler(db, cfg, hub)
	votingHandler := handlers.NewVotingHandler(db, cfg, hub)
	resultsHandler := handlers.NewResultsHandler(db, cfg)
	streamHandler := handlers.NewStreamHandler(db, cfg, hub)
	deviceHandler := handlers.NewDeviceHandler(db, cfg)

	voteLimiter := middleware.NewRateLimiter(cfg.VoteRateLimit, cfg.VoteRateBurst)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Assembly setup (operator, requires X-Operator-Key after creation)
	mux.HandleFunc("POST /assemblies", middleware.WithLogging(assemblyHandler.CreateAssembly))
	mux.HandleFunc("GET /assemblies/{id}", middleware.WithLogging(assemblyHandler.GetAssembly))
	mux.HandleFunc("POST /assemblies/{id}/units", middleware.WithLogging(assemblyHandler.ImportUnits))
	mux.HandleFunc("GET /assemblies/{id}/units", middleware.WithLogging(assemblyHandler.ListUnits))
	mux.HandleFunc("POST /assemblies/{id}/agendas", middleware.WithLogging(agendaHandler.CreateAgenda))
	mux.HandleFunc("GET /assemblies/{id}/agendas", middleware.WithLogging(agendaHandler.ListAgendas))

	// Live updates
	mux.HandleFunc("GET /assemblies/{id}/stream", middleware.WithLogging(streamHandler.SSE))
	mux.HandleFunc("GET /assemblies/{id}/ws", middleware.WithLogging(streamHandler.WebSocket))

	// QR code pool
	mux.HandleFunc("POST /qr-codes", middleware.WithLogging(qrHandler.CreateQRCodes))
	mux.HandleFunc("GET /qr-codes", middleware.WithLogging(qrHandler.ListQRCodes))

	// Check-in desk (operator)
	mux.HandleFunc("POST /checkin/assemblies/{id}/checkin", middleware.WithLogging(checkinHandler.Checkin))
	mux.HandleFunc("DELETE /checkin/assignments/{id}", middleware.WithLogging(checkinHandler.Undo))
	mux.HandleFunc("GET /checkin/assemblies/{id}/attendance", middleware.WithLogging(checkinHandler.Attendance))
	mux.HandleFunc("POST /checkin/assemblies/{id}/select-units-by-owner", middleware.WithLogging(checkinHandler.SelectUnitsByOwner))

	// Agenda lifecycle (operator)
	mux.HandleFunc("POST /agendas/{id}/open", middleware.WithLogging(agendaHandler.OpenAgenda))
	mux.HandleFunc("POST /agendas/{id}/close", middleware.WithLogging(agendaHandler.CloseAgenda))

	// Voting (public, identified by QR token)
	mux.HandleFunc("GET /voting/status/{token}", middleware.WithLogging(votingHandler.Status))
	mux.HandleFunc("POST /voting/vote", middleware.WithLogging(voteLimiter.Limit(votingHandler.CastVote)))
	mux.HandleFunc("POST /voting/votes/{id}/invalidate", middleware.WithLogging(votingHandler.InvalidateVote))

	// Quorum and results (public)
	mux.HandleFunc("GET /voting/assemblies/{id}/quorum", middleware.WithLogging(resultsHandler.Quorum))
	mux.HandleFunc("GET /voting/agendas/{id}/results", middleware.WithLogging(resultsHandler.Results))

	// Device management
	mux.HandleFunc("POST /devices/register", middleware.WithLogging(deviceHandler.Register))
	mux.HandleFunc("GET /devices/me", middleware.WithLogging(deviceHandler.GetMe))
	mux.HandleFunc("GET /devices/my-assemblies", middleware.WithLogging(deviceHandler.GetMyAssemblies))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("quickly-quorum API v1"))
	})

	return mux
}
