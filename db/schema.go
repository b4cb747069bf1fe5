// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// The SQL below runs unchanged on SQLite and PostgreSQL.
const schema = `
-- Assemblies
CREATE TABLE IF NOT EXISTS assembly (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    location TEXT,
    assembly_date TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'in_progress', 'finished')),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Units (snapshot of the condominium at import time)
CREATE TABLE IF NOT EXISTS unit (
    id TEXT PRIMARY KEY,
    assembly_id TEXT NOT NULL REFERENCES assembly(id) ON DELETE CASCADE,
    unit_number TEXT NOT NULL,
    owner_name TEXT NOT NULL,
    cpf_cnpj TEXT NOT NULL DEFAULT '',
    ideal_fraction DOUBLE PRECISION NOT NULL CHECK (ideal_fraction > 0 AND ideal_fraction <= 100),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (assembly_id, unit_number)
);

CREATE INDEX IF NOT EXISTS idx_unit_assembly_id ON unit(assembly_id);

-- QR codes (reusable across assemblies)
CREATE TABLE IF NOT EXISTS qr_code (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    visual_number INTEGER NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Check-in assignments
CREATE TABLE IF NOT EXISTS assignment (
    id TEXT PRIMARY KEY,
    assembly_id TEXT NOT NULL REFERENCES assembly(id) ON DELETE CASCADE,
    qr_code_id TEXT NOT NULL REFERENCES qr_code(id),
    is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
    assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    undone_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assignment_assembly_id ON assignment(assembly_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_assignment_active_qr
    ON assignment(assembly_id, qr_code_id) WHERE undone_at IS NULL;

CREATE TABLE IF NOT EXISTS assignment_unit (
    assignment_id TEXT NOT NULL REFERENCES assignment(id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL REFERENCES unit(id) ON DELETE CASCADE,
    assembly_id TEXT NOT NULL REFERENCES assembly(id) ON DELETE CASCADE,
    released_at TIMESTAMP,
    PRIMARY KEY (assignment_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_assignment_unit_assembly ON assignment_unit(assembly_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_assignment_unit_active
    ON assignment_unit(unit_id) WHERE released_at IS NULL;

-- Agendas
CREATE TABLE IF NOT EXISTS agenda (
    id TEXT PRIMARY KEY,
    assembly_id TEXT NOT NULL REFERENCES assembly(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT,
    display_order INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'open', 'closed')),
    opened_at TIMESTAMP,
    closed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_agenda_assembly_id ON agenda(assembly_id);
CREATE INDEX IF NOT EXISTS idx_agenda_status ON agenda(status);

CREATE TABLE IF NOT EXISTS agenda_option (
    id TEXT PRIMARY KEY,
    agenda_id TEXT NOT NULL REFERENCES agenda(id) ON DELETE CASCADE,
    option_text TEXT NOT NULL,
    display_order INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_agenda_option_agenda_id ON agenda_option(agenda_id);

-- Devices
CREATE TABLE IF NOT EXISTS device (
    id TEXT PRIMARY KEY,
    device_uuid TEXT NOT NULL UNIQUE,
    platform TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS device_assembly (
    device_id TEXT NOT NULL REFERENCES device(id) ON DELETE CASCADE,
    assembly_id TEXT NOT NULL REFERENCES assembly(id) ON DELETE CASCADE,
    qr_token TEXT,
    role TEXT NOT NULL DEFAULT 'voter',
    linked_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (device_id, assembly_id)
);

CREATE INDEX IF NOT EXISTS idx_device_assembly_device ON device_assembly(device_id);

-- Votes (one active vote per unit per agenda)
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    agenda_id TEXT NOT NULL REFERENCES agenda(id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL REFERENCES unit(id) ON DELETE CASCADE,
    option_id TEXT NOT NULL REFERENCES agenda_option(id) ON DELETE CASCADE,
    assignment_id TEXT NOT NULL REFERENCES assignment(id),
    device_id TEXT REFERENCES device(id) ON DELETE SET NULL,
    ip_hash TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    invalidated_at TIMESTAMP,
    invalidated_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_vote_agenda_id ON vote(agenda_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_vote_active
    ON vote(agenda_id, unit_id) WHERE invalidated_at IS NULL;
`
