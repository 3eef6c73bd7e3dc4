package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/mengsuenyan/fce/adapter"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/wasm"
)

// wasiModule is the import namespace wazero's WASI preview1 host serves.
const wasiModule = "wasi_snapshot_preview1"

// Module is a compiled wasm binary bound to its own runtime.
type Module struct {
	engine   *Engine
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	raw      []byte
	name     string
	wasiUp   bool
}

func (m *Module) Name() string { return m.name }

// EmbeddedInterface returns the interface description carried in the
// module's custom section, or false when the binary has none.
func (m *Module) EmbeddedInterface() (string, bool, error) {
	return wasm.ExtractInterface(m.raw)
}

// ImportDecl is one function import a module declares, with its raw
// numeric signature.
type ImportDecl struct {
	Module string
	Name   string
	Sig    adapter.CoreSignature
}

// ImportedFunctions lists the module's function imports, excluding WASI,
// which the engine satisfies itself.
func (m *Module) ImportedFunctions() []ImportDecl {
	var out []ImportDecl
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, ok := def.Import()
		if !ok || mod == wasiModule {
			continue
		}
		sig, ok := coreSignature(def.ParamTypes(), def.ResultTypes())
		if !ok {
			continue
		}
		out = append(out, ImportDecl{Module: mod, Name: name, Sig: sig})
	}
	return out
}

// ExportSignature returns the raw numeric signature of an exported
// function.
func (m *Module) ExportSignature(name string) (adapter.CoreSignature, bool) {
	for _, def := range m.compiled.ExportedFunctions() {
		for _, exp := range def.ExportNames() {
			if exp == name {
				return coreSignature(def.ParamTypes(), def.ResultTypes())
			}
		}
	}
	return adapter.CoreSignature{}, false
}

// HasExport reports whether the module exports a function with this name.
func (m *Module) HasExport(name string) bool {
	_, ok := m.ExportSignature(name)
	return ok
}

// HostImport is a raw host function the embedder installs to satisfy one
// of the module's imports. Fn runs on the guest's calling goroutine; an
// error return traps the in-flight guest call.
type HostImport struct {
	Module  string
	Name    string
	Fn      adapter.CoreFunc
	Params  []adapter.CoreType
	Results []adapter.CoreType
}

// hostTrap carries a host error through wazero's stack as a panic. The
// instance call wrapper recovers it.
type hostTrap struct {
	err error
}

// Instantiate creates a running instance. Host imports are grouped into
// host modules and instantiated first; WASI is brought up when the module
// imports it.
func (m *Module) Instantiate(ctx context.Context, caps Capabilities, hosts []HostImport) (*Instance, error) {
	for _, def := range m.compiled.ImportedFunctions() {
		if mod, _, ok := def.Import(); ok && mod == wasiModule && !m.wasiUp {
			if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime); err != nil {
				return nil, ferrors.Instantiation(m.name, err)
			}
			m.wasiUp = true
			break
		}
	}

	byModule := make(map[string][]HostImport)
	var order []string
	for _, h := range hosts {
		if _, seen := byModule[h.Module]; !seen {
			order = append(order, h.Module)
		}
		byModule[h.Module] = append(byModule[h.Module], h)
	}
	for _, modName := range order {
		builder := m.runtime.NewHostModuleBuilder(modName)
		for _, h := range byModule[modName] {
			fn := h.Fn
			nparams, nresults := len(h.Params), len(h.Results)
			goFn := api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				args := make([]uint64, nparams)
				copy(args, stack)
				out, err := fn(ctx, args)
				if err != nil {
					panic(hostTrap{err: err})
				}
				if len(out) != nresults {
					panic(hostTrap{err: ferrors.Internal("host import returned %d values, want %d", len(out), nresults)})
				}
				copy(stack, out)
			})
			params := make([]api.ValueType, len(h.Params))
			for i, p := range h.Params {
				params[i] = valueTypeOf(p)
			}
			results := make([]api.ValueType, len(h.Results))
			for i, r := range h.Results {
				results[i] = valueTypeOf(r)
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(goFn, params, results).
				Export(h.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, ferrors.Instantiation(m.name, err)
		}
	}

	mcfg, err := caps.moduleConfig(m.name)
	if err != nil {
		return nil, ferrors.Instantiation(m.name, err)
	}
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, mcfg)
	if err != nil {
		return nil, ferrors.Instantiation(m.name, err)
	}

	inst := &Instance{name: m.name, mod: mod}
	if mem := mod.Memory(); mem != nil {
		inst.memory = &instanceMemory{mem: mem}
	}
	if alloc := mod.ExportedFunction(adapter.AllocExport); alloc != nil {
		inst.alloc = &guestAllocator{
			alloc: alloc,
			free:  mod.ExportedFunction(adapter.DeallocExport),
		}
	}
	return inst, nil
}

// Close releases the module's runtime and every instance created from it.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}
