// Package engine implements the two passes of the annotation history log.
//
// # Sync
//
// A Syncer records annotation history from a collection.Source into a
// store.Store. The first pass against an empty store takes a snapshot:
// every distinct tag currently applied in the source becomes one
// TagEvent stamped with the pass time. Every later pass is incremental:
//
//  1. Read the store watermark (latest event timestamp or sync point).
//  2. Pull source history events of type "annotation" started strictly
//     after the watermark, in ascending start order.
//  3. Classify each event into one of the five kinds by detail keys.
//  4. Map affected items to registry indices, encode the bitmap, append.
//
// Classification precedence is fixed: tag, fieldName, item-set with an
// assigned or unassigned count, excluded, assigned. An event matching no
// rule, or whose kind is disabled, is ignored. A disabled kind never falls
// through to a lower precedence kind.
//
// # Replay
//
// A Replayer applies recorded events to a collection.Target. Each event's
// bitmap is decoded, indices are resolved to identities through the
// registry, identities are looked up in the target in chunks, and the
// matching mutation primitive is called once with every found item.
// Replay is per kind; ReplayAll merges the kinds by timestamp.
//
// # Failure Model
//
// Store failures abort a pass and are returned. The open batch is rolled
// back and the registry reloaded, so the in-memory mapping never holds
// indices the store does not.
//
// Failures scoped to one event are PassErrors:
//
//   - ErrCodeResolution: the event could not be resolved or applied. It
//     is logged, counted as skipped and added to Report.Errors.
//   - ErrCodeIntegrity: the stored event disagrees with itself or with
//     the registry. It is logged as a warning and processing continues.
//
// # Cancellation
//
// Both passes check the context and Stop between events. An event that
// has started is always finished, and events recorded before the stop
// are committed.
package engine
