// Package engine drives the WebAssembly executor. It compiles module
// binaries with wazero, instantiates them with their declared capabilities,
// and exposes each instance's raw surface: numeric core functions, linear
// memory and the guest allocator.
//
// The engine knows nothing about interface types. Everything above the
// numeric ABI — lifting, lowering, import dispatch — lives in the adapter
// and linker packages. Each module gets its own wazero runtime so memory
// limits apply per module, not per process.
package engine
