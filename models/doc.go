// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.
The same types are decoded by the client package.

# Request Types

  - CreateAssemblyRequest: title, location, assembly_date
  - ImportUnitsRequest: units (unit_number, owner_name, cpf_cnpj, ideal_fraction)
  - CreateQRCodesRequest: count
  - CheckinRequest: qr_token or qr_visual_number, unit_ids, is_proxy
  - SelectUnitsByOwnerRequest: owner_name, cpf_cnpj
  - CreateAgendaRequest: title, description, display_order, options
  - CastVoteRequest: qr_token, agenda_id, option_id
  - InvalidateVoteRequest: reason
  - RegisterDeviceRequest: platform

# Response Types

  - CreateAssemblyResponse: assembly_id, operator_key
  - ImportUnitsResponse: imported, total_fraction
  - CastVoteResponse: votes_created, vote_ids
  - *ListResponse: items
  - ErrorResponse: error, message

# Domain Types

  - Assembly: draft, in_progress, finished
  - Unit: an apartment with its owner and ideal fraction
  - QRCode: a printed token with a visual number
  - Assignment: units bound to a QR code by one check-in
  - Agenda, AgendaOption: an item put to vote
  - Vote: one row per unit, possibly invalidated
  - AgendaResults, OptionResult: fraction-weighted tallies
  - VotingStatus: what a QR token may vote on
  - QuorumSnapshot: alias of quorum.Snapshot

Device roles:

	RoleVoter    = "voter"
	RoleOperator = "operator"
*/
package models
