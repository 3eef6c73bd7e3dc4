// Package adapter generates and executes adapter programs: the instruction
// sequences that convert between a module's numeric ABI and interface-typed
// values at every call boundary.
//
// The generator walks a function's declared interface signature against the
// module's raw core signature and emits one program per export and per
// import. The interpreter executes a program over a single evaluation stack,
// reading and writing guest memory through bounds-checked accessors and the
// guest's own allocator. Programs are machine-generated; a malformed program
// is an internal invariant violation, not a user error.
package adapter
