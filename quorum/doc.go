// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package quorum computes units present and ideal-fraction totals from
// active check-in assignments. The server uses it to decide quorum and the
// client uses it to render the same numbers.
package quorum
