// Package identity maps 128-bit item identities to dense bitmap indices.
//
// Bitmaps stored with every recorded event reference items by index, not by
// identity. The mapping is therefore append-only:
//
//   - Indices start at 1 and increase monotonically.
//   - An index is never reused or renumbered, even across restarts.
//   - Each identity has exactly one index and each index exactly one identity.
//
// The Registry keeps both directions in memory and persists new entries
// through a Backend before they become visible.
package identity
