// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ownership

import (
	"strings"

	"github.com/danielhkuo/quickly-quorum/models"
)

// Index groups the units of one assembly by owner.
type Index struct {
	units   []models.Unit
	groups  map[string][]string // owner key -> unit ids in input order
	ownerOf map[string]string   // unit id -> owner key
	names   map[string][]string // normalized name -> owner keys
}

// Key is the owner identity: trimmed, lower-cased name plus tax id.
func Key(ownerName, taxID string) string {
	return normalizeName(ownerName) + "|" + taxID
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Build indexes units. Unit ids are assumed unique.
func Build(units []models.Unit) *Index {
	idx := &Index{
		units:   append([]models.Unit(nil), units...),
		groups:  make(map[string][]string),
		ownerOf: make(map[string]string, len(units)),
		names:   make(map[string][]string),
	}
	for _, u := range units {
		key := Key(u.OwnerName, u.CPFCNPJ)
		if _, ok := idx.groups[key]; !ok {
			name := normalizeName(u.OwnerName)
			idx.names[name] = append(idx.names[name], key)
		}
		idx.groups[key] = append(idx.groups[key], u.ID)
		idx.ownerOf[u.ID] = key
	}
	return idx
}

// UnitsForOwner returns every unit sharing unitID's owner, unitID included.
// Unknown ids return nil.
func (idx *Index) UnitsForOwner(unitID string) []string {
	key, ok := idx.ownerOf[unitID]
	if !ok {
		return nil
	}
	return append([]string(nil), idx.groups[key]...)
}

// Owner returns the units of the owner matching name and, when given,
// taxID. An empty taxID matches every owner with that name.
func (idx *Index) Owner(name, taxID string) []string {
	if taxID != "" {
		return append([]string(nil), idx.groups[Key(name, taxID)]...)
	}
	var out []string
	for _, key := range idx.names[normalizeName(name)] {
		out = append(out, idx.groups[key]...)
	}
	return out
}

// Contains reports whether unitID was indexed.
func (idx *Index) Contains(unitID string) bool {
	_, ok := idx.ownerOf[unitID]
	return ok
}

// Len is the number of indexed units.
func (idx *Index) Len() int {
	return len(idx.ownerOf)
}

// Filter returns the units whose number, owner name or tax id contains
// term, case-insensitively, in input order. A blank term returns every unit.
func (idx *Index) Filter(term string) []models.Unit {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.Unit, 0, len(idx.units))
	for _, u := range idx.units {
		if term == "" ||
			strings.Contains(strings.ToLower(u.UnitNumber), term) ||
			strings.Contains(strings.ToLower(u.OwnerName), term) ||
			strings.Contains(strings.ToLower(u.CPFCNPJ), term) {
			out = append(out, u)
		}
	}
	return out
}
