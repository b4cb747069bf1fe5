// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cache

// Cache keys for the server aggregates a client view reads.

func AttendanceKey(assemblyID string) string { return "attendance:" + assemblyID }

func QuorumKey(assemblyID string) string { return "quorum:" + assemblyID }

func AgendasKey(assemblyID string) string { return "agendas:" + assemblyID }

func UnitsKey(assemblyID string) string { return "units:" + assemblyID }

func ResultsKey(agendaID string) string { return "results:" + agendaID }

func VotingStatusKey(qrToken string) string { return "voting-status:" + qrToken }
