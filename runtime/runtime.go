package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/mengsuenyan/fce/config"
	"github.com/mengsuenyan/fce/engine"
	"github.com/mengsuenyan/fce/itype"
	"github.com/mengsuenyan/fce/linker"
)

// HostFunc is an embedder-provided import target.
type HostFunc = linker.HostFunc

// Runtime ties an engine and a registry together behind one call surface.
type Runtime struct {
	eng *engine.Engine
	reg *linker.Registry
	log *zap.Logger
}

type Option func(*Runtime)

// WithLogger routes the runtime's own messages through l.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

func New(opts ...Option) *Runtime {
	r := &Runtime{
		eng: engine.New(),
		log: Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reg = linker.NewRegistry(r.eng)
	return r
}

// ModuleOptions carries the per-module knobs of LoadModule.
type ModuleOptions struct {
	// Interface overrides the binary's embedded interface description.
	Interface string
	// MemPages caps linear memory in 64 KiB pages; zero means the default.
	MemPages uint32
	// Imports renames import namespaces to registered module names.
	Imports map[string]string
	// Capabilities is the module instance's ambient authority.
	Capabilities engine.Capabilities
}

// LoadModule registers one module. Modules load in call order; imports are
// resolved later, by Link, so load order does not constrain import edges.
func (r *Runtime) LoadModule(ctx context.Context, name string, wasm []byte, opts ModuleOptions) error {
	return r.reg.Register(ctx, linker.ModuleConfig{
		Name:         name,
		Wasm:         wasm,
		Interface:    opts.Interface,
		MemPages:     opts.MemPages,
		Imports:      opts.Imports,
		Capabilities: opts.Capabilities,
	})
}

// LoadConfig reads every module an application config declares and
// registers them in declared order.
func (r *Runtime) LoadConfig(ctx context.Context, cfg *config.Config) error {
	for _, m := range cfg.Modules {
		data, err := cfg.ReadModule(m)
		if err != nil {
			return err
		}
		opts := ModuleOptions{
			Interface: m.Interface,
			MemPages:  m.MemPages,
			Imports:   m.Imports,
			Capabilities: engine.Capabilities{
				Env:        m.Capabilities.Envs,
				Args:       m.Capabilities.Args,
				MappedDirs: m.Capabilities.MappedDirs,
			},
		}
		for _, dir := range m.Capabilities.PreopenedDirs {
			if opts.Capabilities.Preopens == nil {
				opts.Capabilities.Preopens = make(map[string]string)
			}
			opts.Capabilities.Preopens[dir] = dir
		}
		if err := r.LoadModule(ctx, m.Name, data, opts); err != nil {
			return err
		}
		r.log.Debug("module loaded from config",
			zap.String("module", m.Name),
			zap.String("path", cfg.ModulePath(m)))
	}
	return nil
}

// RegisterHostFunc installs a host import target under namespace.name with
// the declared signature. Link checks importers against sig like any module
// export. Must be called before Link.
func (r *Runtime) RegisterHostFunc(namespace, name string, sig itype.FuncSignature, fn HostFunc) error {
	return r.reg.RegisterHost(namespace, name, sig, fn)
}

// Link resolves all imports. All-or-nothing; see linker.Registry.Link.
func (r *Runtime) Link() error {
	return r.reg.Link()
}

// Call invokes module.fn with typed arguments.
func (r *Runtime) Call(ctx context.Context, module, fn string, args []itype.Value) ([]itype.Value, error) {
	return r.reg.Call(ctx, module, fn, args)
}

// Modules returns loaded module names in load order.
func (r *Runtime) Modules() []string {
	return r.reg.Modules()
}

// ModuleInterface returns one module's parsed interface.
func (r *Runtime) ModuleInterface(module string) (*itype.ModuleInterface, error) {
	return r.reg.Interface(module)
}

// Interface describes every loaded module's exports, keyed by module name.
func (r *Runtime) Interface() map[string]*itype.ModuleInterface {
	out := make(map[string]*itype.ModuleInterface)
	for _, name := range r.reg.Modules() {
		iface, err := r.reg.Interface(name)
		if err != nil {
			continue
		}
		out[name] = iface
	}
	return out
}

// Close releases every module and the engine.
func (r *Runtime) Close(ctx context.Context) error {
	return r.reg.Close(ctx)
}
