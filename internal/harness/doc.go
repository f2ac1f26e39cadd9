// Package harness runs ncd programs as conformance scenarios.
//
// A scenario names a program, the exit code it should finish with and a
// list of assertions over the recorded transition trace and the program's
// output.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: spawn_join
//	description: "A join follows its child process"
//	program: programs/spawn.cue   # or inline `source: |`
//	exit_code: 0
//	assertions:
//	  - type: trace_contains
//	    process: main
//	    statement: 2
//	    kind: up
//	  - type: trace_order
//	    events:
//	      - {process: main, statement: 2, kind: clean}
//	      - {process: child, kind: process_continue}
//	  - type: trace_count
//	    process: main
//	    kind: error
//	    count: 0
//	  - type: output_contains
//	    text: "hi"
//	  - type: final_state
//	    table: runs
//	    expect: {finished: 1, exit_code: 0}
//
// Event matchers compare only the fields they set. Statement -1 matches
// process level events.
//
// # Deterministic Testing
//
// Every run uses a fixed run id, a clock starting at zero and a fresh
// in-memory SQLite store, so the same scenario always yields the same
// trace. Check runs a scenario twice and reports any difference between
// the two canonical trace snapshots.
package harness
