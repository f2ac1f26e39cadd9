// Package engine implements the ncd interpreter: processes, statement
// instances and the lifecycle protocol between them.
//
// ARCHITECTURE:
//
// Single reactor goroutine:
// Every state transition runs on the goroutine that drives the interpreter.
// Nothing in this package locks; other goroutines reach the reactor only
// through Interpreter.Post and Interpreter.After.
//
// Deferred jobs:
// Instances never call back into their process synchronously. Up, Down and
// Dead record the new state and schedule the process's work job; the job
// runs after the current callback returns. This keeps module code free to
// signal from anywhere, constructors and Die included.
//
// Process work loop:
//  1. A terminating process kills its last statement until none are left.
//  2. A process that was up reports ProcessDown to its parent first.
//  3. Statements after the advance point are killed, last first.
//  4. A statement that went down gets Clean once everything after it is gone.
//  5. Otherwise the next statement is created, or the process goes up.
//
// CRITICAL PATTERNS:
//
// Logical clock:
// Trace events are stamped with Clock.Next(). Ordering never depends on
// wall-clock time, so the same program produces the same trace.
//
// Deterministic scheduling:
// Processes start in declaration order and jobs run most recent first. No
// goroutines, no maps iterated on the hot path.
package engine
