package linker

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/mengsuenyan/fce/adapter"
	"github.com/mengsuenyan/fce/engine"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
	"github.com/mengsuenyan/fce/wit"
)

// HostFunc is an embedder-provided import target working directly in
// interface-typed values.
type HostFunc func(ctx context.Context, args []itype.Value) ([]itype.Value, error)

// hostEntry pairs a host function with its declared signature. Link checks
// importers against it the same way it checks module exports.
type hostEntry struct {
	sig itype.FuncSignature
	fn  HostFunc
}

// ModuleConfig describes one module to register.
type ModuleConfig struct {
	// Name is the registry key and the namespace other modules import
	// this module under.
	Name string
	// Wasm is the module binary.
	Wasm []byte
	// Interface overrides the binary's embedded interface description
	// when non-empty.
	Interface string
	// MemPages caps linear memory in 64 KiB pages; zero means the engine
	// default.
	MemPages uint32
	// Imports renames import namespaces before resolution, so a binary
	// built against namespace "util" can be linked to whatever module the
	// deployment actually registered.
	Imports map[string]string
	// Capabilities is the instance's ambient authority.
	Capabilities engine.Capabilities
}

// Registry holds registered modules and, once linked, serves calls.
type Registry struct {
	eng     *engine.Engine
	log     *zap.Logger
	modules map[string]*moduleState
	hosts   map[string]hostEntry
	caps    map[string]hostEntry
	order   []string
	mu      sync.Mutex
	linked  bool
}

func NewRegistry(eng *engine.Engine) *Registry {
	return &Registry{
		eng:     eng,
		log:     Logger(),
		modules: make(map[string]*moduleState),
		hosts:   make(map[string]hostEntry),
		caps:    builtinCapabilities(),
	}
}

type moduleState struct {
	module   *engine.Module
	instance *engine.Instance
	iface    *itype.ModuleInterface
	exports  map[string]*adapter.Program
	imports  []*importBinding
	redirect map[string]string
	name     string
	callMu   sync.Mutex
	poisoned bool
}

type importBinding struct {
	prog *adapter.Program
	// target is installed by Link; until then the import traps.
	target       adapter.ImportFunc
	targetModule string
	decl         engine.ImportDecl
	sig          itype.Import
}

func (s *moduleState) bindings() adapter.Bindings {
	return adapter.Bindings{
		Memory: s.instance.Memory(),
		Alloc:  s.instance.Allocator(),
		Core:   s.instance.CoreFunc,
		Import: func(i int) (adapter.ImportFunc, bool) {
			if i < 0 || i >= len(s.imports) || s.imports[i].target == nil {
				return nil, false
			}
			return s.imports[i].target, true
		},
	}
}

// RegisterHost installs a host function import target under
// namespace.name. sig declares the function's interface signature; Link
// rejects importers whose declaration does not match its shape. Host
// signatures carry no record table, so record shapes must be spelled
// inline rather than by reference. Host functions must be registered
// before Link.
func (r *Registry) RegisterHost(namespace, name string, sig itype.FuncSignature, fn HostFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linked {
		return ferrors.LinkState("host function registered after link")
	}
	key := namespace + "." + name
	if _, dup := r.hosts[key]; dup {
		return ferrors.New(ferrors.PhaseRegister, ferrors.KindDuplicateName).
			Name(key).
			Detail("host function already registered").
			Build()
	}
	if ref := firstRecordRef(sig); ref != "" {
		return ferrors.New(ferrors.PhaseRegister, ferrors.KindInvalidInput).
			Name(key).
			Detail("host signature references record %q; inline the record shape", ref).
			Build()
	}
	r.hosts[key] = hostEntry{sig: sig, fn: fn}
	return nil
}

// firstRecordRef returns the name of the first record reference in sig,
// or "" when the signature is self-contained.
func firstRecordRef(sig itype.FuncSignature) string {
	var walk func(t *itype.Type) string
	walk = func(t *itype.Type) string {
		switch t.Kind {
		case itype.KindRecordRef:
			return t.Name
		case itype.KindList:
			return walk(t.Elem)
		case itype.KindRecord:
			for i := range t.Fields {
				if ref := walk(&t.Fields[i].Type); ref != "" {
					return ref
				}
			}
		}
		return ""
	}
	for i := range sig.Params {
		if ref := walk(&sig.Params[i].Type); ref != "" {
			return ref
		}
	}
	for i := range sig.Results {
		if ref := walk(&sig.Results[i]); ref != "" {
			return ref
		}
	}
	return ""
}

// Register compiles, validates and instantiates one module. The module's
// adapter programs are generated here so interface errors surface at
// registration, not first call.
func (r *Registry) Register(ctx context.Context, cfg ModuleConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.linked {
		return ferrors.LinkState("module registered after link")
	}
	if cfg.Name == "" {
		return ferrors.New(ferrors.PhaseRegister, ferrors.KindInvalidInput).
			Detail("module name must not be empty").
			Build()
	}
	if _, dup := r.modules[cfg.Name]; dup {
		return ferrors.DuplicateModule(cfg.Name)
	}

	mod, err := r.eng.Compile(ctx, cfg.Name, cfg.Wasm, engine.CompileOptions{MemPages: cfg.MemPages})
	if err != nil {
		return err
	}

	st, err := r.buildState(ctx, cfg, mod)
	if err != nil {
		_ = mod.Close(ctx)
		return err
	}

	r.modules[cfg.Name] = st
	r.order = append(r.order, cfg.Name)
	r.log.Info("module registered",
		zap.String("module", cfg.Name),
		zap.Int("exports", len(st.exports)),
		zap.Int("imports", len(st.imports)))
	return nil
}

func (r *Registry) buildState(ctx context.Context, cfg ModuleConfig, mod *engine.Module) (*moduleState, error) {
	text := cfg.Interface
	if text == "" {
		embedded, ok, err := mod.EmbeddedInterface()
		if err != nil {
			return nil, ferrors.Instantiation(cfg.Name, err)
		}
		if !ok {
			return nil, ferrors.New(ferrors.PhaseRegister, ferrors.KindMalformedInterface).
				Module(cfg.Name).
				Detail("module carries no interface description and none was supplied").
				Build()
		}
		text = embedded
	}

	iface, err := wit.Parse(text)
	if err != nil {
		if e, ok := err.(*ferrors.Error); ok && e.Mod == "" {
			e.Mod = cfg.Name
		}
		return nil, err
	}

	hasAlloc, err := checkAllocator(cfg.Name, mod)
	if err != nil {
		return nil, err
	}

	st := &moduleState{
		name:     cfg.Name,
		module:   mod,
		iface:    iface,
		exports:  make(map[string]*adapter.Program, len(iface.Exports)),
		redirect: cfg.Imports,
	}

	for _, fn := range iface.Exports {
		coreSig, ok := mod.ExportSignature(fn.Name)
		if !ok {
			return nil, ferrors.New(ferrors.PhaseRegister, ferrors.KindFunctionNotFound).
				Module(cfg.Name).
				Name(fn.Name).
				Detail("interface exports a function the module does not").
				Build()
		}
		prog, err := adapter.GenerateExport(cfg.Name, fn, coreSig, iface.Records, hasAlloc)
		if err != nil {
			return nil, err
		}
		st.exports[fn.Name] = prog
	}

	for i, decl := range mod.ImportedFunctions() {
		isig, ok := iface.Import(decl.Module, decl.Name)
		if !ok {
			return nil, ferrors.New(ferrors.PhaseRegister, ferrors.KindMalformedInterface).
				Module(cfg.Name).
				Name(decl.Module + "." + decl.Name).
				Detail("module imports a function the interface does not declare").
				Build()
		}
		prog, err := adapter.GenerateImport(cfg.Name, isig, i, decl.Sig, iface.Records, hasAlloc)
		if err != nil {
			return nil, err
		}
		st.imports = append(st.imports, &importBinding{decl: decl, sig: isig, prog: prog})
	}

	hostImps := make([]engine.HostImport, len(st.imports))
	for i, b := range st.imports {
		b := b
		hostImps[i] = engine.HostImport{
			Module:  b.decl.Module,
			Name:    b.decl.Name,
			Params:  b.decl.Sig.Params,
			Results: b.decl.Sig.Results,
			Fn: func(ctx context.Context, raw []uint64) ([]uint64, error) {
				if b.target == nil {
					return nil, ferrors.LinkState("import " + b.prog.Name + " dispatched before link")
				}
				return adapter.RunImport(ctx, b.prog, st.bindings(), raw)
			},
		}
	}

	inst, err := mod.Instantiate(ctx, cfg.Capabilities, hostImps)
	if err != nil {
		return nil, err
	}
	st.instance = inst
	return st, nil
}

// checkAllocator verifies the shape of the allocator exports when present.
func checkAllocator(module string, mod *engine.Module) (bool, error) {
	sig, ok := mod.ExportSignature(adapter.AllocExport)
	if !ok {
		return false, nil
	}
	wantAlloc := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	if !slices.Equal(sig.Params, wantAlloc.Params) || !slices.Equal(sig.Results, wantAlloc.Results) {
		return false, ferrors.SignatureMismatch(module, adapter.AllocExport, wantAlloc.String(), sig.String())
	}
	if dsig, ok := mod.ExportSignature(adapter.DeallocExport); ok {
		wantFree := adapter.CoreSignature{
			Params: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		}
		if !slices.Equal(dsig.Params, wantFree.Params) || len(dsig.Results) != 0 {
			return false, ferrors.SignatureMismatch(module, adapter.DeallocExport, wantFree.String(), dsig.String())
		}
	}
	return true, nil
}

// Linked reports whether Link has completed.
func (r *Registry) Linked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linked
}

// Modules returns registered module names in registration order.
func (r *Registry) Modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Interface returns a module's parsed interface.
func (r *Registry) Interface(module string) (*itype.ModuleInterface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.modules[module]
	if !ok {
		return nil, ferrors.ModuleNotFound(module)
	}
	return st.iface, nil
}

// Call invokes an adapted export. Calls on the same module instance are
// serialized; a trap poisons the instance.
func (r *Registry) Call(ctx context.Context, module, fn string, args []itype.Value) ([]itype.Value, error) {
	r.mu.Lock()
	if !r.linked {
		r.mu.Unlock()
		return nil, ferrors.LinkState("call before link")
	}
	st, ok := r.modules[module]
	r.mu.Unlock()
	if !ok {
		return nil, ferrors.ModuleNotFound(module)
	}
	return r.callState(ctx, st, fn, args)
}

func (r *Registry) callState(ctx context.Context, st *moduleState, fn string, args []itype.Value) ([]itype.Value, error) {
	prog, ok := st.exports[fn]
	if !ok {
		return nil, ferrors.FunctionNotFound(st.name, fn)
	}

	st.callMu.Lock()
	defer st.callMu.Unlock()
	if st.poisoned {
		return nil, ferrors.Poisoned(st.name)
	}

	out, err := adapter.RunExport(ctx, prog, st.bindings(), args)
	if err != nil && ferrors.IsPhase(err, ferrors.PhaseTrap) {
		st.poisoned = true
		r.log.Warn("instance poisoned",
			zap.String("module", st.name),
			zap.String("function", fn),
			zap.Error(err))
	}
	return out, err
}

// Close releases every registered module.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, name := range r.order {
		st := r.modules[name]
		if err := st.module.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.modules = make(map[string]*moduleState)
	r.order = nil
	r.linked = false
	return firstErr
}
