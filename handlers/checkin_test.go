// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielhkuo/quickly-quorum/broadcast"
	"github.com/danielhkuo/quickly-quorum/events"
	"github.com/danielhkuo/quickly-quorum/models"
	"github.com/danielhkuo/quickly-quorum/testutil"
)

type checkinFixture struct {
	assemblyID  string
	operatorKey string
	units       map[string]string // unit number -> id
}

func setupCheckin(t *testing.T) (*CheckinHandler, checkinFixture, *broadcast.Broker) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	broker := broadcast.NewBroker(0)
	t.Cleanup(func() { broker.Close() })

	assemblyID, key := testutil.CreateTestAssembly(t, db, cfg)
	fx := checkinFixture{
		assemblyID:  assemblyID,
		operatorKey: key,
		units: map[string]string{
			"101": testutil.AddTestUnit(t, db, assemblyID, "101", "Ana Souza", "111", 40),
			"102": testutil.AddTestUnit(t, db, assemblyID, "102", "Ana Souza", "111", 35),
			"201": testutil.AddTestUnit(t, db, assemblyID, "201", "Bruno Lima", "222", 25),
		},
	}
	return NewCheckinHandler(db, cfg, broker), fx, broker
}

func doCheckin(h *CheckinHandler, assemblyID, key string, body interface{}) *httptest.ResponseRecorder {
	req := testutil.MakeRequest("POST", "/checkin/assemblies/"+assemblyID+"/checkin", body, testutil.OperatorHeaders(key))
	req.SetPathValue("id", assemblyID)
	w := httptest.NewRecorder()
	h.Checkin(w, req)
	return w
}

func TestCheckin(t *testing.T) {
	h, fx, _ := setupCheckin(t)
	qr1, token1 := testutil.CreateTestQRCode(t, h.db, 1)
	testutil.CreateTestQRCode(t, h.db, 2)
	_, token3 := testutil.CreateTestQRCode(t, h.db, 3)

	w := doCheckin(h, fx.assemblyID, fx.operatorKey, models.CheckinRequest{
		QRToken: strings.ToUpper(token1),
		UnitIDs: []string{fx.units["101"], fx.units["102"]},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var a models.Assignment
	testutil.AssertJSON(t, w, &a)
	if a.QRCodeID != qr1 || len(a.UnitIDs) != 2 {
		t.Errorf("Unexpected assignment: %+v", a)
	}

	var status string
	if err := h.db.QueryRow(`SELECT status FROM assembly WHERE id = $1`, fx.assemblyID).Scan(&status); err != nil {
		t.Fatalf("Failed to query assembly: %v", err)
	}
	if status != models.AssemblyInProgress {
		t.Errorf("Expected assembly %q after first check-in, got %q", models.AssemblyInProgress, status)
	}

	tests := []struct {
		name           string
		key            string
		body           interface{}
		expectedStatus int
		errContains    string
	}{
		{
			name:           "wrong operator key",
			key:            "bad",
			body:           models.CheckinRequest{QRVisualNumber: 2, UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "no QR reference",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusBadRequest,
			errContains:    "required",
		},
		{
			name:           "both QR references",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRToken: token3, QRVisualNumber: 3, UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusBadRequest,
			errContains:    "not both",
		},
		{
			name:           "malformed token",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRToken: "not-a-token", UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty units",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 2},
			expectedStatus: http.StatusBadRequest,
			errContains:    "unit_ids",
		},
		{
			name:           "duplicate unit in request",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 2, UnitIDs: []string{fx.units["201"], fx.units["201"]}},
			expectedStatus: http.StatusBadRequest,
			errContains:    "more than once",
		},
		{
			name:           "unknown QR",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 99, UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "QR already assigned",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 1, UnitIDs: []string{fx.units["201"]}},
			expectedStatus: http.StatusConflict,
			errContains:    "QR code 1 is already assigned in this assembly",
		},
		{
			name:           "unit from elsewhere",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 2, UnitIDs: []string{"foreign"}},
			expectedStatus: http.StatusBadRequest,
			errContains:    "not part of this assembly",
		},
		{
			name:           "unit already present",
			key:            fx.operatorKey,
			body:           models.CheckinRequest{QRVisualNumber: 2, UnitIDs: []string{fx.units["201"], fx.units["102"]}},
			expectedStatus: http.StatusConflict,
			errContains:    "unit 102 is already checked in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doCheckin(h, fx.assemblyID, tt.key, tt.body)
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.errContains != "" && !strings.Contains(w.Body.String(), tt.errContains) {
				t.Errorf("Expected body to contain %q, got %s", tt.errContains, w.Body.String())
			}
		})
	}

	// Rejected requests must leave nothing behind.
	var assignments, bound int
	h.db.QueryRow(`SELECT COUNT(*) FROM assignment WHERE assembly_id = $1`, fx.assemblyID).Scan(&assignments)
	h.db.QueryRow(`SELECT COUNT(*) FROM assignment_unit WHERE assembly_id = $1`, fx.assemblyID).Scan(&bound)
	if assignments != 1 || bound != 2 {
		t.Errorf("Expected 1 assignment with 2 units, got %d and %d", assignments, bound)
	}
}

func TestCheckin_BroadcastsAttendance(t *testing.T) {
	h, fx, broker := setupCheckin(t)
	testutil.CreateTestQRCode(t, h.db, 7)

	sub := broker.Subscribe(fx.assemblyID)
	defer sub.Cancel()

	w := doCheckin(h, fx.assemblyID, fx.operatorKey, models.CheckinRequest{
		QRVisualNumber: 7,
		UnitIDs:        []string{fx.units["101"], fx.units["201"]},
		IsProxy:        true,
	})
	testutil.AssertStatus(t, w, http.StatusCreated)

	select {
	case msg := <-sub.C:
		if msg.Event != events.CheckinUpdate {
			t.Fatalf("Expected %s, got %s", events.CheckinUpdate, msg.Event)
		}
		var p events.CheckinPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if p.UnitsPresent != 2 || p.FractionPresent != 65 {
			t.Errorf("Unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No checkin_update was published")
	}
}

func TestUndo(t *testing.T) {
	h, fx, broker := setupCheckin(t)
	qrID, _ := testutil.CreateTestQRCode(t, h.db, 1)
	assignmentID := testutil.CheckInTestUnits(t, h.db, fx.assemblyID, qrID, fx.units["101"], fx.units["102"])

	undo := func(key string) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("DELETE", "/checkin/assignments/"+assignmentID, nil, testutil.OperatorHeaders(key))
		req.SetPathValue("id", assignmentID)
		w := httptest.NewRecorder()
		h.Undo(w, req)
		return w
	}

	testutil.AssertStatus(t, undo("wrong"), http.StatusUnauthorized)

	sub := broker.Subscribe(fx.assemblyID)
	defer sub.Cancel()

	testutil.AssertStatus(t, undo(fx.operatorKey), http.StatusNoContent)

	var first time.Time
	if err := h.db.QueryRow(`SELECT undone_at FROM assignment WHERE id = $1`, assignmentID).Scan(&first); err != nil {
		t.Fatalf("Failed to read undone_at: %v", err)
	}

	select {
	case msg := <-sub.C:
		var p events.CheckinPayload
		json.Unmarshal(msg.Data, &p)
		if p.UnitsPresent != 0 {
			t.Errorf("Expected 0 units present after undo, got %d", p.UnitsPresent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No checkin_update was published on undo")
	}

	testutil.AssertStatus(t, undo(fx.operatorKey), http.StatusNoContent)

	var second time.Time
	h.db.QueryRow(`SELECT undone_at FROM assignment WHERE id = $1`, assignmentID).Scan(&second)
	if !first.Equal(second) {
		t.Errorf("Repeated undo changed undone_at from %v to %v", first, second)
	}
	select {
	case msg := <-sub.C:
		t.Errorf("Repeated undo published %s", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}

	// Released units and QR can be checked in again.
	w := doCheckin(h, fx.assemblyID, fx.operatorKey, models.CheckinRequest{
		QRVisualNumber: 1,
		UnitIDs:        []string{fx.units["101"]},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)

	t.Run("unknown assignment", func(t *testing.T) {
		req := testutil.MakeRequest("DELETE", "/checkin/assignments/missing", nil, testutil.OperatorHeaders(fx.operatorKey))
		req.SetPathValue("id", "missing")
		w := httptest.NewRecorder()
		h.Undo(w, req)
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}

func TestAttendance(t *testing.T) {
	h, fx, _ := setupCheckin(t)
	qr1, _ := testutil.CreateTestQRCode(t, h.db, 1)
	qr2, _ := testutil.CreateTestQRCode(t, h.db, 2)
	testutil.CheckInTestUnits(t, h.db, fx.assemblyID, qr1, fx.units["102"], fx.units["101"])
	time.Sleep(5 * time.Millisecond)
	undone := testutil.CheckInTestUnits(t, h.db, fx.assemblyID, qr2, fx.units["201"])
	if _, err := h.db.Exec(`UPDATE assignment SET undone_at = $1 WHERE id = $2`, time.Now().UTC(), undone); err != nil {
		t.Fatalf("Failed to undo: %v", err)
	}
	if _, err := h.db.Exec(`UPDATE assignment_unit SET released_at = $1 WHERE assignment_id = $2`, time.Now().UTC(), undone); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}

	req := testutil.MakeRequest("GET", "/checkin/assemblies/"+fx.assemblyID+"/attendance", nil, testutil.OperatorHeaders(fx.operatorKey))
	req.SetPathValue("id", fx.assemblyID)
	w := httptest.NewRecorder()
	h.Attendance(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.AttendanceListResponse
	testutil.AssertJSON(t, w, &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("Expected 1 active assignment, got %d", len(resp.Items))
	}
	item := resp.Items[0]
	if item.QRVisualNumber != 1 || len(item.Units) != 2 || item.TotalFraction != 75 {
		t.Errorf("Unexpected attendance item: %+v", item)
	}
	if item.Units[0].UnitNumber != "101" {
		t.Errorf("Expected units ordered by number, got %s first", item.Units[0].UnitNumber)
	}
}

func TestSelectUnitsByOwner(t *testing.T) {
	h, fx, _ := setupCheckin(t)

	tests := []struct {
		name           string
		body           models.SelectUnitsByOwnerRequest
		expectedStatus int
		expected       []string
	}{
		{"owner with two units", models.SelectUnitsByOwnerRequest{OwnerName: "ana souza", CPFCNPJ: "111"}, http.StatusOK, []string{fx.units["101"], fx.units["102"]}},
		{"unknown owner", models.SelectUnitsByOwnerRequest{OwnerName: "Carla"}, http.StatusOK, []string{}},
		{"missing name", models.SelectUnitsByOwnerRequest{}, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/checkin/assemblies/"+fx.assemblyID+"/select-units-by-owner", tt.body, testutil.OperatorHeaders(fx.operatorKey))
			req.SetPathValue("id", fx.assemblyID)
			w := httptest.NewRecorder()
			h.SelectUnitsByOwner(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var ids []string
			testutil.AssertJSON(t, w, &ids)
			if len(ids) != len(tt.expected) {
				t.Fatalf("Expected %d ids, got %v", len(tt.expected), ids)
			}
			want := make(map[string]bool)
			for _, id := range tt.expected {
				want[id] = true
			}
			for i, id := range ids {
				if !want[id] {
					t.Errorf("Unexpected unit id %s", id)
				}
				if i > 0 && ids[i-1] > id {
					t.Error("Expected sorted ids")
				}
			}
		})
	}
}
