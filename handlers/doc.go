// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the Quickly Quorum API.

# Handler Types

Each handler is a struct with database and config dependencies; handlers
that change attendance or voting also take a broadcast.Publisher:

  - AssemblyHandler: Assembly creation and unit import
  - QRCodeHandler: The shared pool of printed QR codes
  - CheckinHandler: Binding units to QR codes, undo and attendance
  - AgendaHandler: Agenda lifecycle (draft, open, closed)
  - VotingHandler: Voter status, vote casting and invalidation
  - ResultsHandler: Quorum and per-agenda results
  - StreamHandler: SSE and WebSocket live updates
  - DeviceHandler: Device registration and assembly history

	checkinHandler := handlers.NewCheckinHandler(db, cfg, hub)

Operator operations require the X-Operator-Key header returned when the
assembly was created.

# Check-in

A check-in binds one active QR code to one or more units in a single
transaction. A QR code holds at most one active assignment per assembly
and a unit is present through at most one assignment. Undo releases both
and may be repeated.

# Quorum

The quorum is the sum of the ideal fractions of the units present,
compared against the configured threshold (inclusive). It is computed by
the quorum package, the same code the client uses.

# Voting

A voter device only knows its QR token. A vote on the open agenda writes
one row per unit bound to the token; results weigh each row by the unit's
ideal fraction. An operator can invalidate a vote with a reason, after
which the unit may vote again.

# Live Updates

Every committed change publishes checkin_update, vote_update or
agenda_update for its assembly. Streams send a heartbeat when idle.
*/
package handlers
