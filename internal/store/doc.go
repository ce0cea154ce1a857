// Package store provides SQLite-backed durable storage for the annotation
// history log.
//
// The store holds:
//   - GUIDRef: the identity registry, one row per allocated index
//   - TagEvent, CustomMetadataEvent, ItemSetEvent, ExclusionEvent,
//     CustodianEvent: one append-only table per event kind
//   - AdditionalInfo: named text/integer values (sync point, source info)
//
// # Ordering
//
// Scans return events ordered by (TimeStamp, rowid) ascending. Equal
// timestamps keep insertion order. Scans page through the table with a
// keyset cursor so no statement is open while callbacks run.
//
// # Batches
//
// BeginBatch opens a transaction that all store reads and writes use until
// Commit or Rollback. The batch commits and reopens its transaction every
// N rows, so a crash loses at most the rows written since the last commit.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection
package store
