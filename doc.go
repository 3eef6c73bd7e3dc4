// Package fce is a host-side compute engine that loads multiple WebAssembly
// modules into one process and lets them call each other with rich types
// (strings, lists, records) across isolated linear memories.
//
// Each module carries an interface description naming its exported and
// imported functions in terms of interface types. From that description the
// engine generates adapter programs - small sequences of lift/lower/call
// instructions - which convert between rich values and the module's numeric
// ABI at call time, reading and writing guest memory through the module's own
// allocator.
//
// # Architecture Overview
//
//	fce/              Root package with Memory and Allocator interfaces
//	├── runtime/      High-level API: load modules, link, call functions
//	├── engine/       wazero-backed executor, WASI capabilities, guest memory
//	├── linker/       Module registry, import resolution, call serialization
//	├── adapter/      Adapter program generator and interpreter
//	├── itype/        Interface-type AST: types, values, signatures
//	├── wit/          Interface description text parser
//	├── wasm/         Core wasm binary helpers (custom sections, test builder)
//	├── config/       YAML application configuration
//	└── errors/       Structured error types
//
// # Quick Start
//
//	rt := runtime.New()
//	defer rt.Close(ctx)
//
//	rt.LoadModule(ctx, "strings", stringsWasm, runtime.ModuleOptions{})
//	rt.LoadModule(ctx, "site", siteWasm, runtime.ModuleOptions{})
//	if err := rt.Link(); err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := rt.Call(ctx, "strings", "to-upper", []itype.Value{itype.Str("abc")})
//	fmt.Println(out[0].Str()) // "ABC"
//
// # Thread Safety
//
// Runtime is safe for concurrent use after Link. Calls into different module
// instances run in parallel; calls into the same instance are serialized by a
// per-instance lock because guest code is not reentrant.
//
// # Memory Model
//
// Guest memory is never exposed to callers: arguments and results cross the
// boundary by value. All adapter-level access to linear memory goes through
// bounds-checked reads and writes validated against the current memory size.
package fce
