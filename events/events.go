// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Event names carried on the assembly stream.
const (
	CheckinUpdate = "checkin_update"
	VoteUpdate    = "vote_update"
	AgendaUpdate  = "agenda_update"
	Heartbeat     = "heartbeat"
)

// Event is one message from the assembly stream. JSON holds the payload
// when it parsed as JSON; otherwise JSON is nil and Raw keeps the text.
type Event struct {
	Name       string
	JSON       json.RawMessage
	Raw        string
	ReceivedAt time.Time
}

// Parse builds an Event from a stream frame. A payload that is not valid
// JSON is kept as Raw with the name preserved.
func Parse(name, data string) Event {
	ev := Event{Name: name, Raw: data, ReceivedAt: time.Now()}
	trimmed := strings.TrimSpace(data)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		ev.JSON = json.RawMessage(trimmed)
	}
	return ev
}

// Decode unmarshals the JSON payload into v.
func (e Event) Decode(v any) error {
	if e.JSON == nil {
		return fmt.Errorf("event %s: payload is not JSON", e.Name)
	}
	return json.Unmarshal(e.JSON, v)
}

type CheckinPayload struct {
	UnitsPresent    int     `json:"units_present"`
	FractionPresent float64 `json:"fraction_present"`
}

type VotePayload struct {
	AgendaID   string `json:"agenda_id"`
	VotesCount int    `json:"votes_count"`
}

type AgendaPayload struct {
	AgendaID string `json:"agenda_id"`
	Status   string `json:"status"`
}

type HeartbeatPayload struct {
	Status string `json:"status"`
}

// Message is what the server publishes for one assembly.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage marshals payload into a Message.
func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// HeartbeatMessage is sent on an idle stream.
func HeartbeatMessage() Message {
	return Message{Event: Heartbeat, Data: json.RawMessage(`{"status":"alive"}`)}
}

// WriteSSE writes m as a text/event-stream frame.
func WriteSSE(w io.Writer, m Message) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(m.Event)
	b.WriteByte('\n')
	data := string(m.Data)
	if data == "" {
		data = "{}"
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
