// Package ir provides the intermediate representation shared by the loader,
// the compiler and the interpreter.
//
// It holds two families of types:
//   - Program IR: Program, Process, Statement and Expr, produced by the CUE
//     loader (or decoded from a CBOR image) and consumed by the compiler.
//   - Runtime values: String, List and Map, the only value kinds a statement
//     can expose. Values are immutable once built.
//
// This package imports nothing internal. Every other internal package may
// import ir; ir stays the foundational layer.
//
// Key design constraints:
//   - Values have a total order (Compare) so maps are stored sorted and
//     duplicate keys are detectable.
//   - Canonical JSON (RFC 8785, NFC strings) is the only serialization used
//     for hashing and golden traces.
//   - Expr is a closed tagged struct, not an interface, so programs encode
//     to CBOR and JSON without registration.
package ir
