// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the Quickly Quorum API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(db, cfg, hub)

# Endpoints

Health:

	GET /health

Assembly setup (operator, requires X-Operator-Key except on create):

	POST /assemblies               - Create assembly (returns operator_key)
	GET  /assemblies/{id}          - Assembly info (public)
	POST /assemblies/{id}/units    - Import units
	GET  /assemblies/{id}/units    - List units
	POST /assemblies/{id}/agendas  - Create agenda
	GET  /assemblies/{id}/agendas  - List agendas (public)

Live updates (public):

	GET /assemblies/{id}/stream - Server-sent events
	GET /assemblies/{id}/ws     - WebSocket

QR codes:

	POST /qr-codes                 - Print a batch
	GET  /qr-codes?assembly_id=... - List (operator)

Check-in desk (operator):

	POST   /checkin/assemblies/{id}/checkin               - Bind units to a QR code
	DELETE /checkin/assignments/{id}                      - Undo a check-in
	GET    /checkin/assemblies/{id}/attendance            - Active check-ins
	POST   /checkin/assemblies/{id}/select-units-by-owner - Units of an owner

Agenda lifecycle (operator):

	POST /agendas/{id}/open
	POST /agendas/{id}/close

Voting and results:

	GET  /voting/status/{token}          - What a QR code may vote on
	POST /voting/vote                    - Cast a vote (rate limited)
	POST /voting/votes/{id}/invalidate   - Invalidate a vote (operator)
	GET  /voting/assemblies/{id}/quorum  - Quorum snapshot
	GET  /voting/agendas/{id}/results    - Weighted results

Device management:

	POST /devices/register      - Register device
	GET  /devices/me            - Get device info
	GET  /devices/my-assemblies - List device's assemblies
*/
package router
