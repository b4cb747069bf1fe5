// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/danielhkuo/quickly-quorum/quorum"
)

// Agenda status constants
const (
	StatusDraft  = "draft"
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Assembly status constants
const (
	AssemblyDraft      = "draft"
	AssemblyInProgress = "in_progress"
	AssemblyFinished   = "finished"
)

// QR code status constants
const (
	QRActive   = "active"
	QRInactive = "inactive"
)

// Request types

type CreateAssemblyRequest struct {
	Title        string    `json:"title"`
	Location     string    `json:"location"`
	AssemblyDate time.Time `json:"assembly_date"`
}

type ImportUnitsRequest struct {
	Units []UnitInput `json:"units"`
}

type UnitInput struct {
	UnitNumber    string  `json:"unit_number"`
	OwnerName     string  `json:"owner_name"`
	CPFCNPJ       string  `json:"cpf_cnpj"`
	IdealFraction float64 `json:"ideal_fraction"`
}

type CreateQRCodesRequest struct {
	Count int `json:"count"`
}

// Exactly one of QRToken and QRVisualNumber must be set.
type CheckinRequest struct {
	QRToken        string   `json:"qr_token,omitempty"`
	QRVisualNumber int      `json:"qr_visual_number,omitempty"`
	UnitIDs        []string `json:"unit_ids"`
	IsProxy        bool     `json:"is_proxy"`
}

type SelectUnitsByOwnerRequest struct {
	OwnerName string `json:"owner_name"`
	CPFCNPJ   string `json:"cpf_cnpj,omitempty"`
}

type CreateAgendaRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	DisplayOrder int      `json:"display_order"`
	Options      []string `json:"options"`
}

type CastVoteRequest struct {
	QRToken  string `json:"qr_token"`
	AgendaID string `json:"agenda_id"`
	OptionID string `json:"option_id"`
}

type InvalidateVoteRequest struct {
	Reason string `json:"reason"`
}

// Response types

type CreateAssemblyResponse struct {
	AssemblyID  string `json:"assembly_id"`
	OperatorKey string `json:"operator_key"`
}

type ImportUnitsResponse struct {
	Imported      int     `json:"imported"`
	TotalFraction float64 `json:"total_fraction"`
}

type UnitListResponse struct {
	Items []Unit `json:"items"`
}

type QRCodeListResponse struct {
	Items []QRCode `json:"items"`
}

type AttendanceListResponse struct {
	Items []AttendanceItem `json:"items"`
}

type AgendaListResponse struct {
	Items []Agenda `json:"items"`
}

type CastVoteResponse struct {
	AgendaID     string   `json:"agenda_id"`
	OptionID     string   `json:"option_id"`
	VotesCreated int      `json:"votes_created"`
	VoteIDs      []string `json:"vote_ids"`
}

// Domain types

type Assembly struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Location     string    `json:"location"`
	AssemblyDate time.Time `json:"assembly_date"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type Unit struct {
	ID            string  `json:"id"`
	AssemblyID    string  `json:"assembly_id"`
	UnitNumber    string  `json:"unit_number"`
	OwnerName     string  `json:"owner_name"`
	CPFCNPJ       string  `json:"cpf_cnpj"`
	IdealFraction float64 `json:"ideal_fraction"`
}

type QRCode struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	VisualNumber int       `json:"visual_number"`
	Status       string    `json:"status"`
	VotingURL    string    `json:"voting_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Assignment struct {
	ID         string     `json:"id"`
	AssemblyID string     `json:"assembly_id"`
	QRCodeID   string     `json:"qr_code_id"`
	UnitIDs    []string   `json:"unit_ids"`
	IsProxy    bool       `json:"is_proxy"`
	AssignedAt time.Time  `json:"assigned_at"`
	UndoneAt   *time.Time `json:"undone_at,omitempty"`
}

type AttendanceItem struct {
	AssignmentID   string   `json:"assignment_id"`
	QRVisualNumber int      `json:"qr_visual_number"`
	IsProxy        bool     `json:"is_proxy"`
	Units          []Unit   `json:"units"`
	OwnerNames     []string `json:"owner_names"`
	TotalFraction  float64  `json:"total_fraction"`
}

type QuorumSnapshot = quorum.Snapshot

type Agenda struct {
	ID           string         `json:"id"`
	AssemblyID   string         `json:"assembly_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	DisplayOrder int            `json:"display_order"`
	Status       string         `json:"status"`
	OpenedAt     *time.Time     `json:"opened_at,omitempty"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	Options      []AgendaOption `json:"options"`
}

type AgendaOption struct {
	ID           string `json:"id"`
	AgendaID     string `json:"agenda_id"`
	OptionText   string `json:"option_text"`
	DisplayOrder int    `json:"display_order"`
}

type Vote struct {
	ID                string     `json:"id"`
	AgendaID          string     `json:"agenda_id"`
	UnitID            string     `json:"unit_id"`
	OptionID          string     `json:"option_id"`
	CreatedAt         time.Time  `json:"created_at"`
	InvalidatedAt     *time.Time `json:"invalidated_at,omitempty"`
	InvalidatedReason string     `json:"invalidated_reason,omitempty"`
	IPHash            *string    `json:"-"` // Never expose in JSON
}

type OptionResult struct {
	OptionID    string  `json:"option_id"`
	OptionText  string  `json:"option_text"`
	VotesCount  int     `json:"votes_count"`
	FractionSum float64 `json:"fraction_sum"`
	Percentage  float64 `json:"percentage"`
}

type AgendaResults struct {
	AgendaID             string         `json:"agenda_id"`
	Status               string         `json:"status"`
	TotalUnitsPresent    int            `json:"total_units_present"`
	TotalUnitsVoted      int            `json:"total_units_voted"`
	TotalFractionPresent float64        `json:"total_fraction_present"`
	TotalFractionVoted   float64        `json:"total_fraction_voted"`
	Results              []OptionResult `json:"results"`
}

type VotingUnit struct {
	ID         string `json:"id"`
	UnitNumber string `json:"unit_number"`
	OwnerName  string `json:"owner_name"`
}

// VotingStatus is what a voter device polls with its QR token.
type VotingStatus struct {
	Assembly Assembly     `json:"assembly"`
	Agenda   *Agenda      `json:"agenda,omitempty"`
	Units    []VotingUnit `json:"units"`
	IsProxy  bool         `json:"is_proxy"`
	HasVoted bool         `json:"has_voted"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
