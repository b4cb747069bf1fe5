// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quorum

import "sort"

// DefaultThreshold is the percent of ideal fraction needed for quorum.
const DefaultThreshold = 50.0

// Snapshot is the quorum state of one assembly.
type Snapshot struct {
	TotalUnits      int     `json:"total_units"`
	UnitsPresent    int     `json:"units_present"`
	FractionPresent float64 `json:"fraction_present"`
	QuorumReached   bool    `json:"quorum_reached"`
}

// Calculate aggregates the units represented by active assignments.
// A unit present in more than one assignment is counted once. Units
// missing from fractions count as present with zero weight. The returned
// fraction is not rounded; QuorumReached is left false for the caller to
// set from the server verdict or Reached.
func Calculate(totalUnits int, fractions map[string]float64, active [][]string) Snapshot {
	seen := make(map[string]struct{})
	for _, unitIDs := range active {
		for _, id := range unitIDs {
			seen[id] = struct{}{}
		}
	}

	// Sum in a fixed order so equal inputs give bit-identical results.
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum float64
	for _, id := range ids {
		sum += fractions[id]
	}

	return Snapshot{
		TotalUnits:      totalUnits,
		UnitsPresent:    len(ids),
		FractionPresent: sum,
	}
}

// Reached reports whether fraction meets threshold (inclusive).
func Reached(fraction, threshold float64) bool {
	return fraction >= threshold
}

// DisplayFraction clamps v to [0, 100] for presentation.
func DisplayFraction(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// WithServerVerdict returns s with QuorumReached taken from server.
func (s Snapshot) WithServerVerdict(server Snapshot) Snapshot {
	s.QuorumReached = server.QuorumReached
	return s
}

// Evaluate fills QuorumReached from threshold.
func (s Snapshot) Evaluate(threshold float64) Snapshot {
	s.QuorumReached = Reached(s.FractionPresent, threshold)
	return s
}
