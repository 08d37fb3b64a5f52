// Package harness runs YAML scenarios against a real engine backed by an
// in-memory SQLite store.
//
// # Scenario Format
//
//	name: gold_counter
//	description: "Global counter clamps and survives a restart"
//	variables:
//	  gold:
//	    scope: global
//	    type: INT
//	    initial: "0"
//	    limits: { min: 0, max: 1000 }
//	steps:
//	  - op: set
//	    key: gold
//	    value: "50"
//	    expect: "50"
//	  - op: restart
//	  - op: get
//	    key: gold
//	    expect: "50"
//	  - op: set
//	    key: gold
//	    value: "abc"
//	    expect_error: CONSTRAINT_VIOLATION
//	assertions:
//	  - type: final_state
//	    table: global_variables
//	    where: { variable_key: gold }
//	    expect: { value: "50" }
//
// Steps are get, set, add, remove, reset, flush, restart, arrive and
// depart. A restart shuts the engine down, which flushes every pending
// write, and starts a new engine over the same store. Per-player values
// come back only after the identity arrives again.
//
// # Assertion Types
//
//   - trace_contains: a step with op (and key, result) succeeded
//   - trace_count: steps with op (and key) ran exactly count times
//   - final_state: a stored row has the expected column values, or is absent
//
// Assertions run after the final shutdown.
//
// # Deterministic Testing
//
// Step sequence numbers come from testutil.DeterministicClock, flush IDs
// from testutil.SequenceIDs and entry timestamps from testutil.FakeTime,
// so the trace of a scenario is byte-identical between runs and can be
// compared with a golden file (see RunWithGolden).
package harness
