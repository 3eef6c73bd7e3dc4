// Package linker owns the module registry and the call surface. Modules
// register with their interface descriptions, the linker generates adapter
// programs for every export and import, and Link resolves each import to a
// target: another module's export, an embedder host function, or a built-in
// capability. After a successful Link the registry is immutable and calls
// flow through the adapter interpreter.
//
// Calls on one instance are serialized; calls on different instances run
// concurrently. An instance that traps is poisoned and rejects further
// calls.
package linker
