// Package store provides the SQLite-backed transition log for ncd runs.
//
// The store is an append-only log with:
//   - Runs: one row per interpreter run, keyed by run id
//   - Transitions: every traced lifecycle event of a run
//
// # Critical Patterns
//
// Logical Identity and Time
//   - All ordering uses seq INTEGER (the interpreter's logical clock),
//     NEVER timestamps
//   - A run's trace reads back in the order it happened regardless of wall
//     time
//
// Deterministic Query Results
//   - Trace queries ORDER BY seq ASC; run listings ORDER BY id COLLATE BINARY
//   - UUIDv7 run ids sort by start time
//
// Idempotent Writes
//   - (run_id, seq) is the primary key of a transition; rewriting a batch is
//     a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Program hashes are computed by ir.ProgramHash.
package store
