// Package wasm holds the small slice of the WebAssembly binary format the
// engine touches directly: LEB128 primitives, section framing, and the
// custom section that carries a module's embedded interface description.
// Execution of module code belongs to wazero; nothing here decodes function
// bodies.
//
// The package also provides a minimal module Builder. It exists for tests
// that need real, loadable binaries without shipping fixture files.
package wasm
