// Package harness runs end-to-end annotation history scenarios.
//
// A scenario describes a source collection, a target collection and the
// passes to run between them. The harness records the source into a fresh
// in-memory store, replays the store into the target and checks the
// resulting mutation trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: tag_roundtrip
//	description: "Tag history replays in order"
//	clock: 2024-03-01T12:00:00Z
//	passes: 2
//	merged: false
//	config:
//	  snapshot_first_sync: false
//	  kinds: [tag, custodian]
//	source:
//	  name: Matter 12
//	  items:
//	    - guid: 00000000000000000000000000000001
//	      name: memo.docx
//	  history:
//	    - start: 2024-03-01T10:00:01Z
//	      details: { tag: Hot, added: true }
//	      items: [memo.docx]
//	target:
//	  name: Matter 12 copy
//	  items:
//	    - guid: 00000000000000000000000000000001
//	assertions:
//	  - type: event_count
//	    kind: tag
//	    count: 1
//	  - type: call_contains
//	    call: 'AddTag("Hot")'
//
// source and target use the collection dump layout of
// internal/collection/memory.
//
// # Assertion Types
//
//   - event_count: the store holds count events of kind (all kinds when
//     kind is empty)
//   - call_contains: some replayed call starts with call
//   - call_count: op was called exactly count times
//   - call_order: calls appear in the given order, gaps allowed
//   - watermark_stable: every pass after the first left the watermark
//     where the first pass put it
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store with a fixed
// clock (scenario.clock, or DefaultClock), so snapshot timestamps and
// replay traces are identical across runs. RunWithGolden compares the
// trace with testdata/golden/{name}.golden; regenerate with
//
//	go test ./internal/harness -update
package harness
