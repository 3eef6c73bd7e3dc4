// Package runtime is the embedder-facing facade over the engine and the
// linker. It loads modules (directly or from an application config), links
// them, and serves typed and JSON call surfaces.
//
// Typical use:
//
//	rt := runtime.New()
//	defer rt.Close(ctx)
//
//	if err := rt.LoadModule(ctx, "calc", wasmBytes, runtime.ModuleOptions{}); err != nil { ... }
//	if err := rt.Link(); err != nil { ... }
//
//	out, err := rt.Call(ctx, "calc", "add", []itype.Value{itype.Int32(1), itype.Int32(2)})
//
// Host functions registered through RegisterHostFunc run on the guest's
// call stack and must not call back into the Runtime; module-to-module
// calls go through declared imports instead.
package runtime
