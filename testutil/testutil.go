// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/quickly-quorum/auth"
	"github.com/danielhkuo/quickly-quorum/cliparse"
	"github.com/danielhkuo/quickly-quorum/db"
	"github.com/danielhkuo/quickly-quorum/models"
)

// SetupTestDB creates a fresh SQLite database with the full schema in the
// test's temp directory. It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "quorum.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:              3318,
		DatabaseURL:       "file::memory:",
		DatabaseType:      db.TypeSQLite,
		OperatorKeySalt:   "test-operator-salt",
		PublicURL:         "http://localhost:3318",
		QuorumThreshold:   50,
		HeartbeatInterval: 30 * time.Second,
		VoteRateLimit:     5,
		VoteRateBurst:     10,
	}
}

// OperatorHeaders returns the header map for an operator request.
func OperatorHeaders(operatorKey string) map[string]string {
	return map[string]string{"X-Operator-Key": operatorKey}
}

// CreateTestAssembly inserts a draft assembly and returns its ID and operator key
func CreateTestAssembly(t *testing.T, db *sql.DB, cfg cliparse.Config) (assemblyID, operatorKey string) {
	t.Helper()

	assemblyID, _ = auth.GenerateID(16)
	_, err := db.Exec(`
		INSERT INTO assembly (id, title, location, status, created_at)
		VALUES ($1, 'Test Assembly', 'Hall', $2, $3)
	`, assemblyID, models.AssemblyDraft, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test assembly: %v", err)
	}

	return assemblyID, auth.GenerateOperatorKey(assemblyID, cfg.OperatorKeySalt)
}

// AddTestUnit adds a unit to an assembly and returns the unit ID
func AddTestUnit(t *testing.T, db *sql.DB, assemblyID, unitNumber, ownerName, taxID string, fraction float64) string {
	t.Helper()

	unitID, _ := auth.GenerateID(12)
	_, err := db.Exec(`
		INSERT INTO unit (id, assembly_id, unit_number, owner_name, cpf_cnpj, ideal_fraction, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, unitID, assemblyID, unitNumber, ownerName, taxID, fraction, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test unit: %v", err)
	}

	return unitID
}

// CreateTestQRCode inserts an active QR code and returns its ID and token
func CreateTestQRCode(t *testing.T, db *sql.DB, visualNumber int) (qrID, token string) {
	t.Helper()

	qrID, _ = auth.GenerateID(12)
	token = auth.GenerateQRToken()
	_, err := db.Exec(`
		INSERT INTO qr_code (id, token, visual_number, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, qrID, token, visualNumber, models.QRActive, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test QR code: %v", err)
	}

	return qrID, token
}

// CheckInTestUnits binds units to a QR code and returns the assignment ID
func CheckInTestUnits(t *testing.T, db *sql.DB, assemblyID, qrID string, unitIDs ...string) string {
	t.Helper()

	assignmentID, _ := auth.GenerateID(16)
	_, err := db.Exec(`
		INSERT INTO assignment (id, assembly_id, qr_code_id, is_proxy, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, assignmentID, assemblyID, qrID, false, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test assignment: %v", err)
	}

	for _, unitID := range unitIDs {
		_, err := db.Exec(`
			INSERT INTO assignment_unit (assignment_id, unit_id, assembly_id)
			VALUES ($1, $2, $3)
		`, assignmentID, unitID, assemblyID)
		if err != nil {
			t.Fatalf("Failed to link test unit: %v", err)
		}
	}

	return assignmentID
}

// CreateTestAgenda inserts an agenda with options and returns the agenda
// ID and option IDs in order. status should be "draft", "open", or "closed"
func CreateTestAgenda(t *testing.T, db *sql.DB, assemblyID, title, status string, displayOrder int, options ...string) (agendaID string, optionIDs []string) {
	t.Helper()

	agendaID, _ = auth.GenerateID(12)
	now := time.Now().UTC()

	var openedAt, closedAt *time.Time
	if status == models.StatusOpen || status == models.StatusClosed {
		openedAt = &now
	}
	if status == models.StatusClosed {
		closedAt = &now
	}

	_, err := db.Exec(`
		INSERT INTO agenda (id, assembly_id, title, description, display_order, status, opened_at, closed_at, created_at)
		VALUES ($1, $2, $3, '', $4, $5, $6, $7, $8)
	`, agendaID, assemblyID, title, displayOrder, status, openedAt, closedAt, now)
	if err != nil {
		t.Fatalf("Failed to create test agenda: %v", err)
	}

	for i, text := range options {
		optionID, _ := auth.GenerateID(12)
		_, err := db.Exec(`
			INSERT INTO agenda_option (id, agenda_id, option_text, display_order)
			VALUES ($1, $2, $3, $4)
		`, optionID, agendaID, text, i)
		if err != nil {
			t.Fatalf("Failed to create test option: %v", err)
		}
		optionIDs = append(optionIDs, optionID)
	}

	return agendaID, optionIDs
}

// CastTestVote inserts an active vote and returns its ID
func CastTestVote(t *testing.T, db *sql.DB, agendaID, unitID, optionID, assignmentID string) string {
	t.Helper()

	voteID, _ := auth.GenerateID(16)
	_, err := db.Exec(`
		INSERT INTO vote (id, agenda_id, unit_id, option_id, assignment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, voteID, agendaID, unitID, optionID, assignmentID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test vote: %v", err)
	}

	return voteID
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
