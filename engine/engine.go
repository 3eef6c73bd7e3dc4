package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/mengsuenyan/fce/adapter"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/wasm"
)

// DefaultMemPages is the per-module memory ceiling applied when a module's
// configuration does not set one. 16 pages is 1 MiB.
const DefaultMemPages = 16

// maxMemPages is the wasm32 addressable limit. wazero panics on larger
// ceilings, so Compile rejects them first.
const maxMemPages = 65536

// Engine compiles module binaries into Modules ready for instantiation.
type Engine struct {
	log *zap.Logger
}

func New() *Engine {
	return &Engine{log: Logger()}
}

// CompileOptions tune the runtime a module is compiled into.
type CompileOptions struct {
	// MemPages caps the module's linear memory in 64 KiB pages. Zero
	// selects DefaultMemPages. Values must stay within the wasm32 limit
	// of 65536 pages.
	MemPages uint32
}

// Compile builds a Module from a wasm binary. The module owns a dedicated
// wazero runtime configured with its memory ceiling; close the Module to
// release it.
func (e *Engine) Compile(ctx context.Context, name string, bin []byte, opts CompileOptions) (*Module, error) {
	if err := wasm.ValidateHeader(bin); err != nil {
		return nil, ferrors.Instantiation(name, err)
	}

	pages := opts.MemPages
	if pages == 0 {
		pages = DefaultMemPages
	}
	if pages > maxMemPages {
		return nil, ferrors.New(ferrors.PhaseRegister, ferrors.KindInvalidInput).
			Module(name).
			Detail("memory limit of %d pages exceeds the wasm32 maximum of %d", pages, maxMemPages).
			Build()
	}
	rcfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(pages).WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, rcfg)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		_ = r.Close(ctx)
		return nil, ferrors.Instantiation(name, err)
	}

	e.log.Debug("module compiled",
		zap.String("module", name),
		zap.Uint32("mem_pages", pages),
		zap.Int("size", len(bin)))

	return &Module{
		engine:   e,
		name:     name,
		runtime:  r,
		compiled: compiled,
		raw:      bin,
	}, nil
}

func coreTypeOf(v api.ValueType) (adapter.CoreType, bool) {
	switch v {
	case api.ValueTypeI32:
		return adapter.CoreI32, true
	case api.ValueTypeI64:
		return adapter.CoreI64, true
	case api.ValueTypeF32:
		return adapter.CoreF32, true
	case api.ValueTypeF64:
		return adapter.CoreF64, true
	}
	return 0, false
}

func valueTypeOf(c adapter.CoreType) api.ValueType {
	switch c {
	case adapter.CoreI64:
		return api.ValueTypeI64
	case adapter.CoreF32:
		return api.ValueTypeF32
	case adapter.CoreF64:
		return api.ValueTypeF64
	}
	return api.ValueTypeI32
}

func coreSignature(params, results []api.ValueType) (adapter.CoreSignature, bool) {
	var sig adapter.CoreSignature
	for _, p := range params {
		c, ok := coreTypeOf(p)
		if !ok {
			return adapter.CoreSignature{}, false
		}
		sig.Params = append(sig.Params, c)
	}
	for _, r := range results {
		c, ok := coreTypeOf(r)
		if !ok {
			return adapter.CoreSignature{}, false
		}
		sig.Results = append(sig.Results, c)
	}
	return sig, true
}
