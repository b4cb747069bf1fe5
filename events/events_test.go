// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package events

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		data     string
		wantJSON bool
	}{
		{"json object", VoteUpdate, `{"agenda_id":"a1","votes_count":3}`, true},
		{"padded json", CheckinUpdate, "  {\"units_present\":2}  ", true},
		{"plain text", CheckinUpdate, "refresh", false},
		{"empty", Heartbeat, "", false},
		{"truncated json", AgendaUpdate, `{"agenda_id":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Parse(tt.event, tt.data)
			assert.Equal(t, tt.event, ev.Name)
			assert.Equal(t, tt.data, ev.Raw)
			assert.Equal(t, tt.wantJSON, ev.JSON != nil)
			assert.False(t, ev.ReceivedAt.IsZero())
		})
	}
}

func TestDecode(t *testing.T) {
	var p VotePayload
	require.NoError(t, Parse(VoteUpdate, `{"agenda_id":"a1","votes_count":3}`).Decode(&p))
	assert.Equal(t, VotePayload{AgendaID: "a1", VotesCount: 3}, p)

	assert.Error(t, Parse(VoteUpdate, "oops").Decode(&p))
}

func TestWriteSSE(t *testing.T) {
	msg, err := NewMessage(AgendaUpdate, AgendaPayload{AgendaID: "ag1", Status: "open"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, msg))
	assert.Equal(t, "event: agenda_update\ndata: {\"agenda_id\":\"ag1\",\"status\":\"open\"}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteSSE(&buf, Message{Event: "note", Data: []byte("line1\nline2")}))
	assert.Equal(t, "event: note\ndata: line1\ndata: line2\n\n", buf.String())
}

func TestHeartbeatMessage(t *testing.T) {
	var p HeartbeatPayload
	require.NoError(t, Parse(Heartbeat, string(HeartbeatMessage().Data)).Decode(&p))
	assert.Equal(t, "alive", p.Status)
}
