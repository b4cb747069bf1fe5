// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
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

type votingFixture struct {
	db          *sql.DB
	handler     *VotingHandler
	broker      *broadcast.Broker
	assemblyID  string
	operatorKey string
	unitA       string
	unitB       string
	unitC       string
	qrID        string
	token       string
	assignment  string
	agendaID    string
	optionIDs   []string
}

// setupVoting checks units 101 and 102 in under one QR code and opens an
// agenda with Yes/No options.
func setupVoting(t *testing.T) votingFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	broker := broadcast.NewBroker(0)
	t.Cleanup(func() { broker.Close() })

	fx := votingFixture{db: db, broker: broker, handler: NewVotingHandler(db, cfg, broker)}
	fx.assemblyID, fx.operatorKey = testutil.CreateTestAssembly(t, db, cfg)
	fx.unitA = testutil.AddTestUnit(t, db, fx.assemblyID, "101", "Ana", "111", 40)
	fx.unitB = testutil.AddTestUnit(t, db, fx.assemblyID, "102", "Ana", "111", 35)
	fx.unitC = testutil.AddTestUnit(t, db, fx.assemblyID, "201", "Bruno", "222", 25)
	fx.qrID, fx.token = testutil.CreateTestQRCode(t, db, 1)
	fx.assignment = testutil.CheckInTestUnits(t, db, fx.assemblyID, fx.qrID, fx.unitA, fx.unitB)
	fx.agendaID, fx.optionIDs = testutil.CreateTestAgenda(t, db, fx.assemblyID, "Budget", models.StatusOpen, 1, "Yes", "No")
	return fx
}

func (fx votingFixture) cast(body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	req := testutil.MakeRequest("POST", "/voting/vote", body, headers)
	w := httptest.NewRecorder()
	fx.handler.CastVote(w, req)
	return w
}

func (fx votingFixture) status(token string) *httptest.ResponseRecorder {
	req := testutil.MakeRequest("GET", "/voting/status/"+token, nil, map[string]string{"X-Device-UUID": "voter-device"})
	req.SetPathValue("token", token)
	w := httptest.NewRecorder()
	fx.handler.Status(w, req)
	return w
}

func TestVotingStatus(t *testing.T) {
	fx := setupVoting(t)

	w := fx.status(fx.token)
	testutil.AssertStatus(t, w, http.StatusOK)
	var st models.VotingStatus
	testutil.AssertJSON(t, w, &st)
	if st.Assembly.ID != fx.assemblyID {
		t.Errorf("Expected assembly %s, got %s", fx.assemblyID, st.Assembly.ID)
	}
	if len(st.Units) != 2 || st.Units[0].UnitNumber != "101" {
		t.Errorf("Unexpected units: %+v", st.Units)
	}
	if st.Agenda == nil || st.Agenda.ID != fx.agendaID {
		t.Fatalf("Expected open agenda %s, got %+v", fx.agendaID, st.Agenda)
	}
	if st.HasVoted {
		t.Error("Expected has_voted=false before voting")
	}

	var role string
	err := fx.db.QueryRow(`
		SELECT da.role FROM device_assembly da JOIN device d ON d.id = da.device_id
		WHERE d.device_uuid = $1
	`, "voter-device").Scan(&role)
	if err != nil || role != models.RoleVoter {
		t.Errorf("Expected device linked as voter, got %q (%v)", role, err)
	}

	testutil.CastTestVote(t, fx.db, fx.agendaID, fx.unitA, fx.optionIDs[0], fx.assignment)
	w = fx.status(fx.token)
	testutil.AssertJSON(t, w, &st)
	if !st.HasVoted {
		t.Error("Expected has_voted=true after a unit voted")
	}

	t.Run("malformed token", func(t *testing.T) {
		testutil.AssertStatus(t, fx.status("garbage"), http.StatusBadRequest)
	})

	t.Run("unknown token", func(t *testing.T) {
		testutil.AssertStatus(t, fx.status("00000000-0000-4000-8000-000000000000"), http.StatusNotFound)
	})

	t.Run("awaiting check-in", func(t *testing.T) {
		_, free := testutil.CreateTestQRCode(t, fx.db, 2)
		w := fx.status(free)
		testutil.AssertStatus(t, w, http.StatusConflict)
		if !strings.Contains(w.Body.String(), msgAwaitingCheckin) {
			t.Errorf("Expected awaiting check-in message, got %s", w.Body.String())
		}
	})
}

func TestCastVote(t *testing.T) {
	fx := setupVoting(t)
	sub := fx.broker.Subscribe(fx.assemblyID)
	defer sub.Cancel()

	w := fx.cast(models.CastVoteRequest{QRToken: fx.token, AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]},
		map[string]string{"X-Device-UUID": "voter-device"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var resp models.CastVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.VotesCreated != 2 || len(resp.VoteIDs) != 2 {
		t.Errorf("Expected one vote per bound unit, got %+v", resp)
	}

	var withDevice int
	fx.db.QueryRow(`SELECT COUNT(*) FROM vote WHERE agenda_id = $1 AND device_id IS NOT NULL AND ip_hash IS NOT NULL`, fx.agendaID).Scan(&withDevice)
	if withDevice != 2 {
		t.Errorf("Expected device and ip hash on both votes, got %d", withDevice)
	}

	select {
	case msg := <-sub.C:
		var p events.VotePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if msg.Event != events.VoteUpdate || p.AgendaID != fx.agendaID || p.VotesCount != 2 {
			t.Errorf("Unexpected broadcast %s %+v", msg.Event, p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No vote_update was published")
	}

	w = fx.cast(models.CastVoteRequest{QRToken: fx.token, AgendaID: fx.agendaID, OptionID: fx.optionIDs[1]}, nil)
	testutil.AssertStatus(t, w, http.StatusConflict)
	if !strings.Contains(w.Body.String(), "unit 101 has already voted on this agenda") {
		t.Errorf("Unexpected conflict message: %s", w.Body.String())
	}
}

func TestCastVote_Resubmission(t *testing.T) {
	fx := setupVoting(t)
	req := models.CastVoteRequest{QRToken: fx.token, AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]}

	w := fx.cast(req, nil)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var first models.CastVoteResponse
	testutil.AssertJSON(t, w, &first)

	sub := fx.broker.Subscribe(fx.assemblyID)
	defer sub.Cancel()

	// Same QR, agenda and option again: the stored votes come back
	w = fx.cast(req, nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var again models.CastVoteResponse
	testutil.AssertJSON(t, w, &again)
	if again.VotesCreated != 2 {
		t.Errorf("Expected 2 votes reported, got %d", again.VotesCreated)
	}
	stored := map[string]bool{}
	for _, id := range first.VoteIDs {
		stored[id] = true
	}
	for _, id := range again.VoteIDs {
		if !stored[id] {
			t.Errorf("Vote %s was not part of the first submission", id)
		}
	}

	var active int
	fx.db.QueryRow(`SELECT COUNT(*) FROM vote WHERE agenda_id = $1 AND invalidated_at IS NULL`, fx.agendaID).Scan(&active)
	if active != 2 {
		t.Errorf("Expected 2 active votes, got %d", active)
	}

	select {
	case msg := <-sub.C:
		t.Errorf("Unexpected broadcast on resubmission: %s", msg.Event)
	case <-time.After(50 * time.Millisecond):
	}

	t.Run("partial re-vote after invalidation is a conflict", func(t *testing.T) {
		_, err := fx.db.Exec(`UPDATE vote SET invalidated_at = CURRENT_TIMESTAMP, invalidated_reason = 'test' WHERE id = $1`, first.VoteIDs[0])
		if err != nil {
			t.Fatal(err)
		}
		w := fx.cast(req, nil)
		testutil.AssertStatus(t, w, http.StatusConflict)
	})
}

func TestCastVote_Rejections(t *testing.T) {
	fx := setupVoting(t)
	draftID, draftOptions := testutil.CreateTestAgenda(t, fx.db, fx.assemblyID, "Later", models.StatusDraft, 2, "Yes", "No")
	_, freeToken := testutil.CreateTestQRCode(t, fx.db, 2)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		errContains    string
	}{
		{"invalid JSON", "nope", http.StatusBadRequest, ""},
		{"bad token", models.CastVoteRequest{QRToken: "bad", AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]}, http.StatusBadRequest, ""},
		{"missing option", models.CastVoteRequest{QRToken: fx.token, AgendaID: fx.agendaID}, http.StatusBadRequest, ""},
		{"unknown QR", models.CastVoteRequest{QRToken: "00000000-0000-4000-8000-000000000000", AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]}, http.StatusNotFound, ""},
		{"unknown agenda", models.CastVoteRequest{QRToken: fx.token, AgendaID: "missing", OptionID: fx.optionIDs[0]}, http.StatusNotFound, ""},
		{"QR not checked in", models.CastVoteRequest{QRToken: freeToken, AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]}, http.StatusConflict, msgAwaitingCheckin},
		{"agenda not open", models.CastVoteRequest{QRToken: fx.token, AgendaID: draftID, OptionID: draftOptions[0]}, http.StatusConflict, "not open for voting"},
		{"option of another agenda", models.CastVoteRequest{QRToken: fx.token, AgendaID: fx.agendaID, OptionID: draftOptions[0]}, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fx.cast(tt.body, nil)
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.errContains != "" && !strings.Contains(w.Body.String(), tt.errContains) {
				t.Errorf("Expected body to contain %q, got %s", tt.errContains, w.Body.String())
			}
		})
	}

	var n int
	fx.db.QueryRow(`SELECT COUNT(*) FROM vote`).Scan(&n)
	if n != 0 {
		t.Errorf("Expected no votes after rejections, got %d", n)
	}
}

func TestInvalidateVote(t *testing.T) {
	fx := setupVoting(t)

	qr2, token2 := testutil.CreateTestQRCode(t, fx.db, 2)
	assignmentID := testutil.CheckInTestUnits(t, fx.db, fx.assemblyID, qr2, fx.unitC)
	voteID := testutil.CastTestVote(t, fx.db, fx.agendaID, fx.unitC, fx.optionIDs[1], assignmentID)

	invalidate := func(id, key string, body interface{}) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/voting/votes/"+id+"/invalidate", body, testutil.OperatorHeaders(key))
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()
		fx.handler.InvalidateVote(w, req)
		return w
	}

	testutil.AssertStatus(t, invalidate("missing", fx.operatorKey, models.InvalidateVoteRequest{Reason: "x"}), http.StatusNotFound)
	testutil.AssertStatus(t, invalidate(voteID, "wrong", models.InvalidateVoteRequest{Reason: "x"}), http.StatusUnauthorized)
	testutil.AssertStatus(t, invalidate(voteID, fx.operatorKey, models.InvalidateVoteRequest{Reason: "  "}), http.StatusBadRequest)

	w := invalidate(voteID, fx.operatorKey, models.InvalidateVoteRequest{Reason: "wrong unit voted"})
	testutil.AssertStatus(t, w, http.StatusOK)
	var vote models.Vote
	testutil.AssertJSON(t, w, &vote)
	if vote.InvalidatedAt == nil || vote.InvalidatedReason != "wrong unit voted" {
		t.Errorf("Expected invalidation details, got %+v", vote)
	}

	testutil.AssertStatus(t, invalidate(voteID, fx.operatorKey, models.InvalidateVoteRequest{Reason: "again"}), http.StatusConflict)

	// The unit may vote again once its vote is invalidated.
	w = fx.cast(models.CastVoteRequest{QRToken: token2, AgendaID: fx.agendaID, OptionID: fx.optionIDs[0]}, nil)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var active, total int
	fx.db.QueryRow(`SELECT COUNT(*) FROM vote WHERE unit_id = $1 AND invalidated_at IS NULL`, fx.unitC).Scan(&active)
	fx.db.QueryRow(`SELECT COUNT(*) FROM vote WHERE unit_id = $1`, fx.unitC).Scan(&total)
	if active != 1 || total != 2 {
		t.Errorf("Expected 1 active of 2 votes, got %d of %d", active, total)
	}
}
