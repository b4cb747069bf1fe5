// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ownership

import (
	"sort"
	"sync"

	"github.com/danielhkuo/quickly-quorum/models"
)

// Selection is the set of units an operator has ticked for check-in.
// Checking a unit selects its whole owner group; unchecking removes only
// that unit.
type Selection struct {
	mu       sync.Mutex
	idx      *Index
	selected map[string]struct{}
}

func NewSelection(idx *Index) *Selection {
	return &Selection{idx: idx, selected: make(map[string]struct{})}
}

func (s *Selection) Check(unitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := s.idx.UnitsForOwner(unitID)
	if group == nil {
		group = []string{unitID}
	}
	for _, id := range group {
		s.selected[id] = struct{}{}
	}
}

func (s *Selection) Uncheck(unitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selected, unitID)
}

// Add selects ids without expanding owner groups.
func (s *Selection) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.selected[id] = struct{}{}
	}
}

// SelectVisible adds every unit currently shown, typically the result of
// Index.Filter. Owner groups are not expanded.
func (s *Selection) SelectVisible(units []models.Unit) {
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	s.Add(ids...)
}

func (s *Selection) Has(unitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selected[unitID]
	return ok
}

// IDs returns the selected ids in sorted order.
func (s *Selection) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected)
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.selected)
}
