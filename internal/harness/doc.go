// Package harness runs YAML scenarios against ls meta records and checks the
// resulting trace and final state.
//
// # Scenario Format
//
//	name: checkpoint_monotonic
//	description: "Checkpoint pair never moves backwards"
//	backend: memory            # memory (default), sqlite or badger
//	stream: {tenant: 1001, ls: 1}
//	id_services:
//	  - {service: TRANS_ID, batch: 100}
//	setup:
//	  - invoke: create
//	    args: {create_scn: 100}
//	flow:
//	  - invoke: set_clog_checkpoint
//	    args: {base_lsn: 50, checkpoint_scn: 1000}
//	    expect:
//	      case: ok
//	  - invoke: set_clog_checkpoint
//	    args: {base_lsn: 40, checkpoint_scn: 1000}
//	    expect:
//	      case: invalid_state
//	assertions:
//	  - type: final_state
//	    expect: {clog_base_lsn: 50}
//	  - type: slog_count
//	    count: 2
//
// Every step targets the scenario stream unless its args carry tenant and
// ls. The completion case of a step is "ok" or the snake_case error kind of
// the failure (see lsmeta.KindName).
//
// # Assertion Types
//
//   - trace_contains: an invocation of action with matching args exists
//   - trace_order: the actions were invoked in this order
//   - trace_count: action was invoked exactly count times
//   - final_state: the live record matches expect (subset match)
//   - slog_count: the durable log holds count entries for the stream
//
// # Deterministic Testing
//
// Trace sequence numbers come from a resettable testutil.SCNClock and ID
// service timestamps from a second one, so a scenario produces identical
// traces on every run. Traces are serialised as canonical JSON for golden
// comparison.
package harness
