// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ownership groups assembly units by owner.

Two units belong to the same owner when their owner names match after
trimming and lower-casing and their tax ids (CPF/CNPJ) match exactly:

	idx := ownership.Build(units)
	idx.UnitsForOwner("u1")       // every unit of u1's owner
	idx.Owner(" Ana Souza ", "")  // lookup by name, any tax id

Selection applies the check-in form rules on top of an Index: checking a
unit selects the owner's whole group, unchecking removes only that unit.
*/
package ownership
