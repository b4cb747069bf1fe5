// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database connections and schema creation.

# Connecting

Open picks the driver from the configuration:

	conn, err := db.Open(cfg) // sqlite (modernc.org/sqlite) or postgres (lib/pq)

SQLite connections run with foreign keys on and a single pooled
connection, so concurrent writers queue instead of failing with SQLITE_BUSY.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - assembly: Assembly metadata and lifecycle
  - unit: Units imported for an assembly, with ideal fraction
  - qr_code: Printed QR artifacts (token + visual number)
  - assignment: Check-in of a QR code within an assembly
  - assignment_unit: Units represented by an assignment
  - agenda, agenda_option: Agenda items and their choices
  - vote: One row per unit per agenda
  - device, device_assembly: Registered devices and their assemblies

# Relationships

	assembly 1──* unit
	assembly 1──* assignment 1──* assignment_unit *──1 unit
	qr_code 1──* assignment
	assembly 1──* agenda 1──* agenda_option
	agenda 1──* vote *──1 unit
	device *──* assembly (via device_assembly)

# Active-Row Invariants

Rows are never deleted during an assembly. Undo and invalidation stamp a
timestamp instead, and partial unique indexes hold the invariants over the
rows still active:

  - ux_assignment_active_qr: one assignment per (assembly, QR) where undone_at IS NULL
  - ux_assignment_unit_active: one link per unit where released_at IS NULL
  - ux_vote_active: one vote per (agenda, unit) where invalidated_at IS NULL

IsUniqueViolation recognises a breach of these indexes from either driver.
*/
package db
